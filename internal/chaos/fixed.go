package chaos

import (
	"math"
	"math/bits"
)

// q32 is a signed Q32.32 fixed-point number.
type q32 int64

const (
	fracBits = 32

	// maxCoord bounds every Lorenz coordinate; the attractor stays well inside it.
	maxCoord q32 = 4096 << fracBits
	// maxSeedCoord bounds Lorenz initial conditions.
	maxSeedCoord q32 = 64 << fracBits
)

func q32FromFloat(f float64) q32 {
	return q32(math.Round(f * (1 << fracBits)))
}

func (a q32) float() float64 {
	return float64(a) / (1 << fracBits)
}

func (a q32) abs() uint64 {
	if a < 0 {
		return uint64(-a)
	}

	return uint64(a)
}

// mul multiplies two Q32.32 values, truncating the magnitude.
// It reports false when the product does not fit.
func (a q32) mul(b q32) (q32, bool) {
	hi, lo := bits.Mul64(a.abs(), b.abs())
	if hi>>(fracBits-1) != 0 {
		return 0, false
	}

	r := q32(hi<<fracBits | lo>>fracBits)
	if (a < 0) != (b < 0) {
		r = -r
	}

	return r, true
}

// fracFromFloat converts f in (0,1) to a 64-bit binary fraction.
func fracFromFloat(f float64) uint64 {
	return uint64(math.Round(f * 0x1p64))
}

func fracToFloat(u uint64) float64 {
	return float64(u>>11) * 0x1p-53
}
