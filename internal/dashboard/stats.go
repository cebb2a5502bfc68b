package dashboard

import (
	"sync/atomic"
	"time"

	"marketdash/internal/indicators"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/logger"
)

const (
	panelTicker    = "ticker_panel"
	panelOrderBook = "orderbook_panel"
	panelKline     = "kline_panel"
	panelVolume    = "volume_panel"
	panelTechnical = "technical_panel"
	panelTickerBar = "ticker_bar"
)

// panelCounters is updated from stream goroutines and the loop alike.
type panelCounters struct {
	accepted  atomic.Int64
	throttled atomic.Int64
	malformed atomic.Int64
	stale     atomic.Int64
	published atomic.Int64
}

func (c *panelCounters) snapshot() metrics.PanelStats {
	return metrics.PanelStats{
		Accepted:  c.accepted.Load(),
		Throttled: c.throttled.Load(),
		Malformed: c.malformed.Load(),
		Stale:     c.stale.Load(),
		Published: c.published.Load(),
	}
}

type panelSet map[string]*panelCounters

func newPanelSet(names ...string) panelSet {
	set := make(panelSet, len(names))
	for _, n := range names {
		set[n] = &panelCounters{}
	}
	return set
}

func (p panelSet) report(log *logger.Log, symbol model.Symbol) {
	for name, c := range p {
		metrics.ReportPanel(log, name, symbol.String(), c.snapshot())
	}
}

// computeIndicators derives the technical panel from a candle series.
func computeIndicators(series model.KlineSeriesSnapshot, smaPeriod, emaPeriod int) (model.IndicatorSnapshot, error) {
	closes := indicators.Closes(series.Candles)
	sma, err := indicators.SMA(closes, smaPeriod)
	if err != nil {
		return model.IndicatorSnapshot{}, err
	}
	ema, err := indicators.EMA(closes, emaPeriod)
	if err != nil {
		return model.IndicatorSnapshot{}, err
	}

	openTimes := make([]int64, len(series.Candles))
	for i, c := range series.Candles {
		openTimes[i] = c.OpenTime
	}

	return model.IndicatorSnapshot{
		Symbol:    series.Symbol,
		Interval:  series.Interval,
		OpenTimes: openTimes,
		Closes:    closes,
		SMA:       sma,
		EMA:       ema,
		SMAPeriod: smaPeriod,
		EMAPeriod: emaPeriod,
		UpdatedAt: timeNow().UTC(),
	}, nil
}

var timeNow = time.Now
