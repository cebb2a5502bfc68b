package metrics

import "marketdash/logger"

// PanelStats holds the message counters of one dashboard panel.
type PanelStats struct {
	Accepted  int64
	Throttled int64
	Malformed int64
	Stale     int64
	Published int64
}

// ReportPanel emits the counters of a panel as gauges and one summary line.
func ReportPanel(log *logger.Log, component, symbol string, stats PanelStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	dropRate := float64(0)
	total := stats.Accepted + stats.Throttled + stats.Malformed + stats.Stale
	if total > 0 {
		dropRate = float64(total-stats.Accepted) / float64(total)
	}

	fields := logger.Fields{"symbol": symbol}
	l.LogMetric(component, "messages_accepted", stats.Accepted, "gauge", fields)
	l.LogMetric(component, "messages_throttled", stats.Throttled, "gauge", fields)
	l.LogMetric(component, "messages_malformed", stats.Malformed, "gauge", fields)
	l.LogMetric(component, "snapshots_published", stats.Published, "gauge", fields)
	l.LogMetric(component, "drop_rate", dropRate, "gauge", fields)

	entry := l.WithFields(logger.Fields{
		"symbol":              symbol,
		"messages_accepted":   stats.Accepted,
		"messages_throttled":  stats.Throttled,
		"messages_malformed":  stats.Malformed,
		"messages_stale":      stats.Stale,
		"snapshots_published": stats.Published,
		"drop_rate":           dropRate,
	})

	if stats.Malformed > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
