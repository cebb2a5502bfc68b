package processor

import (
	"errors"
	"math"
	"testing"

	"marketdash/internal/model"
)

func TestParseTickerScenario(t *testing.T) {
	u, err := ParseTicker([]byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"50000.00","p":"-250.00","P":"-0.50","E":1700000000000}`))
	if err != nil {
		t.Fatalf("ParseTicker failed: %v", err)
	}

	a := NewTickerAggregator("BTCUSDT")
	snap := a.ApplyTicker(u)
	if snap.LastPrice != 50000 || snap.ChangeAbsolute != -250 || snap.ChangePercent != -0.5 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Direction != model.Down {
		t.Fatalf("expected direction down, got %s", snap.Direction)
	}
	if snap.EventTime != 1700000000000 {
		t.Fatalf("unexpected event time %d", snap.EventTime)
	}
	if snap.BestBid != nil || snap.BestAsk != nil || snap.Spread != nil {
		t.Fatalf("expected no book fields, got %+v", snap)
	}
	if snap.Display.Price != "50,000.00" || snap.Display.Change != "-250.00 (-0.50%)" || snap.Display.Spread != Placeholder {
		t.Fatalf("unexpected display: %+v", snap.Display)
	}
}

func TestParseFullExchangeTicker(t *testing.T) {
	raw := []byte(`{"e":"24hrTicker","E":1672515782136,"s":"BNBBTC","p":"0.0015","P":"250.00","w":"0.0018","x":"0.0009","c":"0.0025","Q":"10","b":"0.0024","B":"10","a":"0.0026","A":"100","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}`)
	u, err := ParseTicker(raw)
	if err != nil {
		t.Fatalf("ParseTicker failed: %v", err)
	}
	if u.EventTime != 1672515782136 || u.LastPrice != 0.0025 || u.ChangePercent != 250 {
		t.Fatalf("unexpected update: %+v", u)
	}
	if u.Bid == nil || *u.Bid != 0.0024 || u.Ask == nil || *u.Ask != 0.0026 {
		t.Fatalf("bid/ask taken from the wrong keys: bid=%v ask=%v", u.Bid, u.Ask)
	}
}

func TestParseFullExchangeBookTicker(t *testing.T) {
	raw := []byte(`{"u":400900217,"s":"BNBUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}`)
	u, err := ParseBookTicker(raw)
	if err != nil {
		t.Fatalf("ParseBookTicker failed: %v", err)
	}
	if *u.Bid != 25.3519 || *u.Ask != 25.3652 {
		t.Fatalf("quantities leaked into prices: bid=%v ask=%v", *u.Bid, *u.Ask)
	}

	a := NewTickerAggregator("BNBUSDT")
	a.ApplyTicker(TickerUpdate{LastPrice: 25.36})
	snap, ok := a.ApplyBookTicker(u)
	if !ok || snap.Spread == nil || math.Abs(*snap.Spread-0.0133) > 1e-9 {
		t.Fatalf("unexpected spread: %+v", snap.Spread)
	}
}

func TestParseFullExchangeMiniTicker(t *testing.T) {
	raw := []byte(`{"e":"24hrMiniTicker","E":1672515782136,"s":"BNBBTC","c":"0.0025","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18"}`)
	u, err := ParseMiniTicker(raw)
	if err != nil {
		t.Fatalf("ParseMiniTicker failed: %v", err)
	}
	if u.Symbol != "BNBBTC" || u.LastPrice != 0.0025 || u.OpenPrice != 0.001 || u.EventTime != 1672515782136 {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestParseTickerMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"c":"abc","p":"1","P":"1"}`,
		`{"p":"1","P":"1"}`,
		`{"c":"1","p":"NaN","P":"1"}`,
	}
	for _, raw := range cases {
		if _, err := ParseTicker([]byte(raw)); !errors.Is(err, ErrParse) {
			t.Errorf("%s: expected ErrParse, got %v", raw, err)
		}
	}
}

func TestTickerSpreadRequiresBothSides(t *testing.T) {
	u, err := ParseTicker([]byte(`{"c":"100","p":"1","P":"1","b":"99.5","a":"nan"}`))
	if err != nil {
		t.Fatalf("ParseTicker failed: %v", err)
	}
	if u.Bid == nil || *u.Bid != 99.5 {
		t.Fatalf("expected bid 99.5, got %v", u.Bid)
	}
	if u.Ask != nil {
		t.Fatalf("expected NaN ask to be absent, got %v", *u.Ask)
	}

	a := NewTickerAggregator("BTCUSDT")
	if snap := a.ApplyTicker(u); snap.Spread != nil {
		t.Fatalf("spread should be absent with one side, got %v", *snap.Spread)
	}

	snap, ok := a.ApplyBookTicker(BookTickerUpdate{Ask: model.Float(100.5)})
	if !ok {
		t.Fatal("expected snapshot after a ticker price")
	}
	if snap.Spread == nil || *snap.Spread != 1 {
		t.Fatalf("expected spread 1, got %v", snap.Spread)
	}
	if snap.Display.Spread != "1.0000" {
		t.Fatalf("unexpected spread text %q", snap.Display.Spread)
	}
}

func TestBookTickerBeforePrice(t *testing.T) {
	a := NewTickerAggregator("ETHUSDT")
	u, err := ParseBookTicker([]byte(`{"u":1,"s":"ETHUSDT","b":"2000.1","B":"1","a":"2000.3","A":"2"}`))
	if err != nil {
		t.Fatalf("ParseBookTicker failed: %v", err)
	}
	if _, ok := a.ApplyBookTicker(u); ok {
		t.Fatal("no snapshot expected before the first ticker price")
	}
	if _, ok := a.Latest(); ok {
		t.Fatal("Latest should be empty before the first ticker price")
	}

	snap := a.ApplyTicker(TickerUpdate{LastPrice: 2000.2, ChangeAbsolute: 5, ChangePercent: 0.25})
	if snap.BestBid == nil || snap.BestAsk == nil || snap.Spread == nil {
		t.Fatalf("book fields should be remembered, got %+v", snap)
	}
	if snap.Direction != model.Up {
		t.Fatalf("expected direction up, got %s", snap.Direction)
	}
}

func TestParseBookTickerWithoutSides(t *testing.T) {
	if _, err := ParseBookTicker([]byte(`{"s":"ETHUSDT"}`)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestTickerPriceMove(t *testing.T) {
	a := NewTickerAggregator("BTCUSDT")
	moves := []struct {
		price float64
		want  model.Direction
	}{
		{100, model.Up},
		{101, model.Up},
		{101, model.Up},
		{99, model.Down},
		{99.5, model.Up},
	}
	for _, m := range moves {
		snap := a.ApplyTicker(TickerUpdate{LastPrice: m.price, ChangeAbsolute: 1})
		if snap.PriceMove != m.want {
			t.Fatalf("price %v: expected %s, got %s", m.price, m.want, snap.PriceMove)
		}
	}

	a.Reset()
	if _, ok := a.Latest(); ok {
		t.Fatal("Reset should clear the snapshot")
	}
	if snap := a.ApplyTicker(TickerUpdate{LastPrice: 1}); snap.PriceMove != model.Up {
		t.Fatal("first price after Reset should move up")
	}
}

func TestMiniTickerAggregator(t *testing.T) {
	a := NewMiniTickerAggregator([]model.Symbol{"BTCUSDT", "ETHUSDT"})

	eth, err := ParseMiniTicker([]byte(`{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"1900","o":"2000","h":"2010","l":"1890","v":"1","q":"1"}`))
	if err != nil {
		t.Fatalf("ParseMiniTicker failed: %v", err)
	}
	snap, ok := a.Apply(eth)
	if !ok || len(snap.Tickers) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Tickers[0].ChangePercent != -5 || snap.Tickers[0].Direction != model.Down {
		t.Fatalf("unexpected entry: %+v", snap.Tickers[0])
	}

	snap, _ = a.Apply(MiniTickerUpdate{Symbol: "BTCUSDT", LastPrice: 110, OpenPrice: 100})
	if len(snap.Tickers) != 2 || snap.Tickers[0].Symbol != "BTCUSDT" {
		t.Fatalf("entries should follow configured order: %+v", snap.Tickers)
	}
	if snap.Tickers[0].Display != "BTCUSDT 110.00 +10.00%" {
		t.Fatalf("unexpected display %q", snap.Tickers[0].Display)
	}

	if _, ok := a.Apply(MiniTickerUpdate{Symbol: "XRPUSDT", LastPrice: 1}); ok {
		t.Fatal("unknown symbol should be ignored")
	}
	if _, err := ParseMiniTicker([]byte(`{"c":"1","o":"1"}`)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse without symbol, got %v", err)
	}
	if p := (MiniTickerUpdate{LastPrice: 5}).ChangePercent(); p != 0 {
		t.Fatalf("zero open should give 0 percent, got %v", p)
	}
}

func TestMiniTickerFromStats(t *testing.T) {
	u, err := MiniTickerFromStats("ethusdt", "1900.00", "-100.00", 7)
	if err != nil {
		t.Fatalf("MiniTickerFromStats failed: %v", err)
	}
	if u.Symbol != "ETHUSDT" || u.OpenPrice != 2000 || u.ChangePercent() != -5 {
		t.Fatalf("unexpected update: %+v", u)
	}

	a := NewMiniTickerAggregator([]model.Symbol{"ETHUSDT"})
	if a.Has("ETHUSDT") {
		t.Fatal("empty aggregator should have no entries")
	}
	a.Apply(u)
	if !a.Has("ETHUSDT") {
		t.Fatal("expected entry after Apply")
	}

	if _, err := MiniTickerFromStats("ETHUSDT", "", "1", 0); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for missing price, got %v", err)
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		v      float64
		places int32
		want   string
	}{
		{50000, 2, "50,000.00"},
		{1234567.891, 2, "1,234,567.89"},
		{-1234.5, 2, "-1,234.50"},
		{999, 2, "999.00"},
		{0.00012, 4, "0.0001"},
	}
	for _, c := range cases {
		if got := FormatNumber(c.v, c.places); got != c.want {
			t.Errorf("FormatNumber(%v, %d) = %q, want %q", c.v, c.places, got, c.want)
		}
	}
	if got := FormatChange(12.5, 0.1); got != "+12.50 (+0.10%)" {
		t.Errorf("unexpected change text %q", got)
	}
}
