// Package money implements integer minor-unit currency arithmetic.
//
// All monetary values in paisad are paise (1/100 of a rupee) held in a
// dedicated integer type. The type deliberately exposes no multiplication,
// division or implicit string conversion: every display goes through Format
// and every external input through Parse.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Paise is an amount in minor units (paise). 100 paise = 1 rupee.
type Paise int64

// MaxSafe is the largest amount Parse and Format guarantee to round-trip.
const MaxSafe Paise = 1<<63 - 1

var (
	ErrOverflow       = errors.New("money: amount overflow")
	ErrNegativeResult = errors.New("money: negative result")
	ErrInvalidAmount  = errors.New("money: invalid amount string")
)

// Format renders an amount as a rupee string with two decimal places,
// e.g. 150050 -> "1500.50". This is the canonical display grammar.
func (p Paise) Format() string {
	neg := p < 0
	v := int64(p)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%02d", v/100, v%100)
	if neg {
		return "-" + s
	}
	return s
}

// Int64 returns the raw minor-unit value. Callers must not perform
// arithmetic on the result; use Add and Sub.
func (p Paise) Int64() int64 { return int64(p) }

// Parse converts a rupee string into paise. The accepted grammar is exactly
// what Format emits: digits, '.', two fractional digits ("1500.50"), so
// Parse and Format round-trip in both directions. Negative amounts are
// rejected; the kernel has no concept of a negative money value.
func Parse(s string) (Paise, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	whole, frac, ok := strings.Cut(s, ".")
	if !ok || whole == "" || len(frac) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	rupees, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	paise, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || paise < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	const maxRupees = (1<<63 - 1) / 100
	if rupees > maxRupees || rupees*100 > int64(MaxSafe)-paise {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}

	return Paise(rupees*100 + paise), nil
}

// Add returns a+b, failing on signed overflow.
func Add(a, b Paise) (Paise, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing when the result would be negative.
func Sub(a, b Paise) (Paise, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegativeResult, a, b)
	}
	return a - b, nil
}
