package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cost is a monetary amount in micro-USD (six fractional digits). All cost
// arithmetic in the runtime is integer arithmetic on this type; floats
// appear only at the gateway boundary.
type Cost int64

// costScale is the number of micro-units per whole unit.
const costScale = 1_000_000

// CostFromFloat converts a gateway-reported float amount, rounding half
// away from zero at the sixth fractional digit.
func CostFromFloat(v float64) Cost {
	return Cost(math.Round(v * costScale))
}

// ParseCost parses a decimal string such as "0.004375" into micro-USD.
func ParseCost(s string) (Cost, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cost %q: %w", s, err)
	}
	// Pad or truncate the fraction to exactly six digits.
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	var f int64
	if frac != "000000" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cost %q: %w", s, err)
		}
	}
	total := w*costScale + f
	if neg {
		total = -total
	}
	return Cost(total), nil
}

// Float64 returns the amount as a float for display and JSON summaries.
func (c Cost) Float64() float64 {
	return float64(c) / costScale
}

// String formats the amount with exactly six fractional digits.
func (c Cost) String() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%06d", v/costScale, v%costScale)
	if neg {
		return "-" + s
	}
	return s
}
