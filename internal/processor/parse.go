// Package processor turns exchange push and REST payloads into presentation
// snapshots. Aggregators are not safe for concurrent use; they are owned by the
// presentation loop.
package processor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrParse marks a payload that could not be decoded. The message is dropped
// and aggregator state is left unchanged.
var ErrParse = errors.New("parse failure")

func parseErr(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrParse, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrParse, what, err)
}

// parseFloat parses a required numeric field. NaN and infinities are rejected.
func parseFloat(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, parseErr("missing field "+field, nil)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, parseErr("field "+field, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, parseErr("field "+field+" is not a finite number", nil)
	}
	return v, nil
}

// parseOptionalFloat returns nil for absent or non-numeric values.
func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
