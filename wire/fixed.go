package wire

import (
	"strconv"
)

// Fixed is a 24.8 signed fixed-point number. Wayland does not have
// support for floating point numbers in its core protocol and uses
// these instead.
type Fixed int32

func FixedInt(v int) Fixed {
	return Fixed(v << 8)
}

func FixedFloat(v float64) Fixed {
	if v < 0 {
		return Fixed(v*256 - 0.5)
	}
	return Fixed(v*256 + 0.5)
}

// Int returns the integer part of f, rounded towards negative
// infinity.
func (f Fixed) Int() int {
	return int(f >> 8)
}

// Frac returns the fractional part of f in 256ths.
func (f Fixed) Frac() int {
	return int(f & 0xFF)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.Float(), 'f', -1, 64)
}
