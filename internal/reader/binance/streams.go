package binance

import (
	"fmt"
	"strings"

	"marketdash/internal/model"
)

// Stream names follow the raw stream convention "<symbol>@<channel>".

// TickerStream is the 24 hour rolling ticker of symbol.
func TickerStream(symbol model.Symbol) string {
	return symbol.Wire() + "@ticker"
}

// BookTickerStream carries best bid and ask updates of symbol.
func BookTickerStream(symbol model.Symbol) string {
	return symbol.Wire() + "@bookTicker"
}

// MiniTickerStream is the reduced 24 hour ticker of symbol.
func MiniTickerStream(symbol model.Symbol) string {
	return symbol.Wire() + "@miniTicker"
}

// DepthStream is the partial book stream with levels per side, pushed every
// speed (e.g. "100ms"). An empty speed uses the exchange default.
func DepthStream(symbol model.Symbol, levels int, speed string) string {
	name := fmt.Sprintf("%s@depth%d", symbol.Wire(), levels)
	if speed != "" {
		name += "@" + speed
	}
	return name
}

// KlineStream carries candle updates of symbol for interval.
func KlineStream(symbol model.Symbol, interval string) string {
	return symbol.Wire() + "@kline_" + interval
}

// StreamURL joins the websocket base and a stream name.
func StreamURL(base, stream string) string {
	return strings.TrimRight(base, "/") + "/" + stream
}
