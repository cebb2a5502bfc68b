// internal/model/common.go
package model

import "strings"

// ───────────────────────────────────────────────────────────────
// Core identifiers
// ───────────────────────────────────────────────────────────────

// Symbol identifies a trading pair. It is upper-case internally and
// lower-case on the exchange wire.
type Symbol string

// NormalizeSymbol trims and upper-cases s.
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

// Wire returns the lower-case form used in stream names.
func (s Symbol) Wire() string {
	return strings.ToLower(string(s))
}

func (s Symbol) String() string {
	return string(s)
}

// Direction is the sign of a change: Up for >= 0, Down otherwise.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// DirectionOf returns Up when change >= 0.
func DirectionOf(change float64) Direction {
	if change >= 0 {
		return Up
	}
	return Down
}

// Float returns a pointer to v, for optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}
