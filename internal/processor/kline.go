package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"marketdash/internal/model"
)

// klinePayload shadows the embedded kline so a message without "k" is detectable.
type klinePayload struct {
	binance.WsKlineEvent
	K *binance.WsKline `json:"k"`
}

// KlineUpdate is a decoded kline push message.
type KlineUpdate struct {
	Symbol   model.Symbol
	Interval string
	Candle   model.Candle
	Final    bool
}

// ParseKline decodes a kline push message.
func ParseKline(raw []byte) (KlineUpdate, error) {
	var p klinePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return KlineUpdate{}, parseErr("kline", err)
	}
	if p.K == nil {
		return KlineUpdate{}, parseErr("missing field k", nil)
	}

	k := p.K
	c := model.Candle{OpenTime: k.StartTime}
	var err error
	if c.Open, err = parseFloat("k.o", k.Open); err != nil {
		return KlineUpdate{}, err
	}
	if c.High, err = parseFloat("k.h", k.High); err != nil {
		return KlineUpdate{}, err
	}
	if c.Low, err = parseFloat("k.l", k.Low); err != nil {
		return KlineUpdate{}, err
	}
	if c.Close, err = parseFloat("k.c", k.Close); err != nil {
		return KlineUpdate{}, err
	}
	if c.Volume, err = parseFloat("k.v", k.Volume); err != nil {
		return KlineUpdate{}, err
	}

	return KlineUpdate{
		Symbol:   model.NormalizeSymbol(p.Symbol),
		Interval: k.Interval,
		Candle:   c,
		Final:    k.IsFinal,
	}, nil
}

// CandleFromRow decodes the OHLCV columns of a REST kline row.
func CandleFromRow(row model.KlineRow) (model.Candle, error) {
	if len(row) <= model.KlineVolume {
		return model.Candle{}, parseErr(fmt.Sprintf("kline row has %d columns", len(row)), nil)
	}

	openTime, err := rowInt(row, model.KlineOpenTime)
	if err != nil {
		return model.Candle{}, err
	}
	c := model.Candle{OpenTime: openTime}
	if c.Open, err = rowFloat(row, model.KlineOpen); err != nil {
		return model.Candle{}, err
	}
	if c.High, err = rowFloat(row, model.KlineHigh); err != nil {
		return model.Candle{}, err
	}
	if c.Low, err = rowFloat(row, model.KlineLow); err != nil {
		return model.Candle{}, err
	}
	if c.Close, err = rowFloat(row, model.KlineClose); err != nil {
		return model.Candle{}, err
	}
	if c.Volume, err = rowFloat(row, model.KlineVolume); err != nil {
		return model.Candle{}, err
	}
	return c, nil
}

// CandlesFromRows decodes every row; one bad row fails the whole batch.
func CandlesFromRows(rows []model.KlineRow) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := CandleFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// rowFloat reads a column sent either as a JSON string or a JSON number.
func rowFloat(row model.KlineRow, idx int) (float64, error) {
	field := "column " + strconv.Itoa(idx)
	if idx >= len(row) {
		return 0, parseErr("missing "+field, nil)
	}
	return parseFloat(field, rawText(row[idx]))
}

func rowInt(row model.KlineRow, idx int) (int64, error) {
	field := "column " + strconv.Itoa(idx)
	if idx >= len(row) {
		return 0, parseErr("missing "+field, nil)
	}
	v, err := strconv.ParseInt(rawText(row[idx]), 10, 64)
	if err != nil {
		return 0, parseErr(field, err)
	}
	return v, nil
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// NextOpenTime returns the open time of the bar following the one opened at
// openTime. Month bars advance by calendar month in UTC.
func NextOpenTime(interval string, openTime int64) (int64, error) {
	n, unit, err := splitInterval(interval)
	if err != nil {
		return 0, err
	}
	if unit == 'M' {
		return time.UnixMilli(openTime).UTC().AddDate(0, n, 0).UnixMilli(), nil
	}
	d, err := IntervalDuration(interval)
	if err != nil {
		return 0, err
	}
	return openTime + d.Milliseconds(), nil
}

// IntervalDuration converts an exchange interval such as "5m" or "1w". Month
// intervals are approximated as 30 days.
func IntervalDuration(interval string) (time.Duration, error) {
	n, unit, err := splitInterval(interval)
	if err != nil {
		return 0, err
	}
	var base time.Duration
	switch unit {
	case 's':
		base = time.Second
	case 'm':
		base = time.Minute
	case 'h':
		base = time.Hour
	case 'd':
		base = 24 * time.Hour
	case 'w':
		base = 7 * 24 * time.Hour
	case 'M':
		base = 30 * 24 * time.Hour
	}
	return time.Duration(n) * base, nil
}

func splitInterval(interval string) (int, byte, error) {
	if len(interval) < 2 {
		return 0, 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	unit := interval[len(interval)-1]
	switch unit {
	case 's', 'm', 'h', 'd', 'w', 'M':
	default:
		return 0, 0, fmt.Errorf("invalid kline interval unit in %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	return n, unit, nil
}

// KlineOutcome describes what Apply did with a push message.
type KlineOutcome int

const (
	// KlineDropped means the series was empty.
	KlineDropped KlineOutcome = iota
	// KlineStale means the message was older than the in-progress candle.
	KlineStale
	// KlineUpdated means the in-progress candle was repainted.
	KlineUpdated
	// KlineClosed means the candle closed and a placeholder was appended.
	KlineClosed
)

func (o KlineOutcome) String() string {
	switch o {
	case KlineDropped:
		return "dropped"
	case KlineStale:
		return "stale"
	case KlineUpdated:
		return "updated"
	case KlineClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Changed reports whether the series was modified.
func (o KlineOutcome) Changed() bool {
	return o == KlineUpdated || o == KlineClosed
}

// KlineSeriesAggregator maintains a bounded candle series ascending by open
// time. Only the last candle is ever modified in place.
type KlineSeriesAggregator struct {
	symbol   model.Symbol
	interval string
	limit    int
	candles  []model.Candle
	state    model.SeriesState
}

// NewKlineSeriesAggregator validates interval and limit and returns an
// unseeded series.
func NewKlineSeriesAggregator(symbol model.Symbol, interval string, limit int) (*KlineSeriesAggregator, error) {
	if _, _, err := splitInterval(interval); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("kline limit must be greater than 0, got %d", limit)
	}
	return &KlineSeriesAggregator{
		symbol:   symbol,
		interval: interval,
		limit:    limit,
		state:    model.Unseeded,
	}, nil
}

// Interval returns the bar interval, e.g. "1h".
func (a *KlineSeriesAggregator) Interval() string {
	return a.interval
}

// Limit returns the maximum series length.
func (a *KlineSeriesAggregator) Limit() int {
	return a.limit
}

// Len returns the current series length.
func (a *KlineSeriesAggregator) Len() int {
	return len(a.candles)
}

// State returns how the series was populated.
func (a *KlineSeriesAggregator) State() model.SeriesState {
	return a.state
}

// Seed replaces the series with candles, sorted ascending, one per open time
// (the later duplicate wins), keeping the newest limit entries.
func (a *KlineSeriesAggregator) Seed(candles []model.Candle) {
	sorted := append([]model.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })

	series := make([]model.Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(series); n > 0 && series[n-1].OpenTime == c.OpenTime {
			series[n-1] = c
			continue
		}
		series = append(series, c)
	}
	if len(series) > a.limit {
		series = series[len(series)-a.limit:]
	}

	a.candles = series
	a.state = model.Seeded
}

// Apply folds one push message into the series. The last candle takes the
// incoming values; a final message then appends a flat placeholder at the
// next open time and evicts the oldest candle beyond the limit.
func (a *KlineSeriesAggregator) Apply(u KlineUpdate) KlineOutcome {
	n := len(a.candles)
	if n == 0 {
		return KlineDropped
	}
	if u.Candle.OpenTime < a.candles[n-1].OpenTime {
		return KlineStale
	}

	a.candles[n-1] = u.Candle
	a.state = model.Live
	if !u.Final {
		return KlineUpdated
	}

	next, err := NextOpenTime(a.interval, u.Candle.OpenTime)
	if err != nil {
		return KlineUpdated
	}
	c := u.Candle.Close
	a.candles = append(a.candles, model.Candle{OpenTime: next, Open: c, High: c, Low: c, Close: c})
	if len(a.candles) > a.limit {
		a.candles = append(a.candles[:0:0], a.candles[len(a.candles)-a.limit:]...)
	}
	return KlineClosed
}

// Candles returns a copy of the series.
func (a *KlineSeriesAggregator) Candles() []model.Candle {
	return append([]model.Candle(nil), a.candles...)
}

// Snapshot returns an immutable copy of the series with render shapes.
func (a *KlineSeriesAggregator) Snapshot() model.KlineSeriesSnapshot {
	candles := a.Candles()
	return model.KlineSeriesSnapshot{
		Symbol:   a.symbol,
		Interval: a.interval,
		State:    a.state,
		Candles:  candles,
		Shapes:   Shapes(candles),
	}
}

// Reset empties the series and returns it to Unseeded.
func (a *KlineSeriesAggregator) Reset() {
	a.candles = nil
	a.state = model.Unseeded
}
