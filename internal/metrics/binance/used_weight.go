// Package binancemetrics turns Binance response headers into metrics.
package binancemetrics

import (
	"net/http"
	"strconv"

	"marketdash/internal/metrics"
	"marketdash/logger"
)

const component = "rest_client"

// header names in preference order; the minute window is what the
// REQUEST_WEIGHT limit is expressed in.
var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
}

// UsedWeight is the request weight consumed in the current window.
type UsedWeight struct {
	Used   float64
	Window string
	// Share is Used over the per-minute limit; zero when the limit is unknown
	// or the header is not the minute window.
	Share float64
}

// ReportUsedWeight reads the first numeric used-weight header and emits a
// used_weight gauge for it, plus used_weight_share when limitPerMinute is
// known. It reports false when no header could be read.
func ReportUsedWeight(log *logger.Log, header http.Header, path string, limitPerMinute int64) (UsedWeight, bool) {
	if header == nil || !metrics.IsFeatureEnabled(metrics.FeatureUsedWeight) {
		return UsedWeight{}, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	for _, h := range usedWeightHeaders {
		value := header.Get(h.key)
		if value == "" {
			continue
		}
		used, err := strconv.ParseFloat(value, 64)
		if err != nil || used < 0 {
			log.WithComponent(component).WithFields(logger.Fields{
				"path":   path,
				"header": h.key,
				"value":  value,
			}).Debug("ignoring unreadable used weight header")
			continue
		}

		w := UsedWeight{Used: used, Window: h.window}
		fields := logger.Fields{"exchange": "binance", "window": h.window, "path": path}
		metrics.EmitMetric(log, component, "used_weight", used, "gauge", fields)

		if limitPerMinute > 0 && h.window == "1m" {
			w.Share = used / float64(limitPerMinute)
			metrics.EmitMetric(log, component, "used_weight_share", w.Share, "gauge", fields)
		}
		return w, true
	}
	return UsedWeight{}, false
}
