package chaos

import (
	"fmt"
	"math/bits"
)

// Generator iterates the logistic map and the Lorenz system side by side and
// emits their combination. A Generator is not safe for concurrent use; create
// one per keystream. Once a step fails, every later call returns the same error.
type Generator struct {
	params   Params
	logistic uint64
	x, y, z  q32
	steps    uint64
	err      error
}

// New validates seed and params and runs the burn-in, so the first emitted
// sample is step BurnIn()+1 of the orbit.
func New(seed Seed, params Params) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := seed.validate(); err != nil {
		return nil, err
	}

	gen := &Generator{
		params:   params,
		logistic: seed.logistic,
		x:        seed.lorenz[0],
		y:        seed.lorenz[1],
		z:        seed.lorenz[2],
	}

	for range params.burnIn {
		if _, err := gen.step(); err != nil {
			return nil, fmt.Errorf("burn-in: %w", err)
		}
	}

	return gen, nil
}

// Sequence returns n quantized samples for seed under params.
func Sequence(seed Seed, params Params, n int) ([]byte, error) {
	gen, err := New(seed, params)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	if err := gen.Fill(out); err != nil {
		return nil, err
	}

	return out, nil
}

// Fill writes one quantized sample (the top 8 bits of the combined value) per byte of dst.
func (g *Generator) Fill(dst []byte) error {
	for i := range dst {
		v, err := g.step()
		if err != nil {
			return err
		}

		dst[i] = byte(v >> 56)
	}

	return nil
}

// Samples returns the next n combined values as reals in [0,1).
func (g *Generator) Samples(n int) ([]float64, error) {
	out := make([]float64, n)

	for i := range out {
		v, err := g.step()
		if err != nil {
			return nil, err
		}

		out[i] = fracToFloat(v)
	}

	return out, nil
}

// Steps returns the number of iterations performed, burn-in included.
func (g *Generator) Steps() uint64 { return g.steps }

// step advances both maps once and returns their sum modulo 1 as a 64-bit fraction.
func (g *Generator) step() (uint64, error) {
	if g.err != nil {
		return 0, g.err
	}

	// Logistic: x <- r*x*(1-x). In 64-bit fractions 1-x is -x (mod 2^64).
	p, _ := bits.Mul64(g.logistic, -g.logistic)
	hi, lo := bits.Mul64(g.params.r, p)

	g.logistic = hi<<2 | lo>>62
	if g.logistic == 0 {
		return 0, g.fail("logistic state collapsed to the fixed point 0")
	}

	// Lorenz, one forward-Euler step from the old state.
	var ok bool

	prod := func(a, b q32) q32 {
		r, fits := a.mul(b)
		ok = ok && fits

		return r
	}

	ok = true

	dx := prod(g.params.sigma, g.y-g.x)
	dy := prod(g.x, g.params.rho-g.z) - g.y
	dz := prod(g.x, g.y) - prod(g.params.beta, g.z)

	x := g.x + prod(dx, g.params.dt)
	y := g.y + prod(dy, g.params.dt)
	z := g.z + prod(dz, g.params.dt)

	if !ok {
		return 0, g.fail("fixed-point overflow in Lorenz integration")
	}

	for _, v := range [3]q32{x, y, z} {
		if v > maxCoord || v < -maxCoord {
			return 0, g.fail("Lorenz trajectory left the bounded region")
		}
	}

	g.x, g.y, g.z = x, y, z
	g.steps++

	// ((|x|+|y|+|z|) mod 256) / 256 as a 64-bit fraction.
	lorenz := (g.x.abs() + g.y.abs() + g.z.abs()) << 24

	return g.logistic + lorenz, nil
}

func (g *Generator) fail(reason string) error {
	g.err = fmt.Errorf("%w: %s after %d steps", ErrNumericInstability, reason, g.steps)

	return g.err
}
