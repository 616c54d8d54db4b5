package model

import (
	"math"
	"strconv"
	"strings"
)

// Whole returns f as an int when it is a finite whole number.  12.0 is
// accepted, 12.7 is not.
func Whole(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// ParseWhole parses a decimal such as "12" or " 12.0 " with the same rule
// as Whole.  Seat numbers, counts and prices all go through it.
func ParseWhole(s string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return Whole(f)
}
