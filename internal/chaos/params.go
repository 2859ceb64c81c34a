package chaos

import (
	"fmt"
	"math"
)

const (
	// logisticRUnit is 1.0 in the Q2.62 representation of the logistic parameter.
	logisticRUnit = 1 << 62

	// minLogisticR is 3.57. Q2.62 values stay below 4.0 by construction.
	minLogisticR = 357 * logisticRUnit / 100

	minBurnIn = 64
	maxDt     = q32((5<<fracBits + 99) / 100) // 0.05, rounded up like q32FromFloat(0.05)
)

// Params is a versioned parameter set for the hybrid generator.
// A ciphertext can only be decrypted with the exact set it was produced under,
// so sets are looked up by scheme name and never changed once published.
type Params struct {
	version uint8
	r       uint64 // logistic parameter, Q2.62
	sigma   q32
	rho     q32
	beta    q32
	dt      q32
	burnIn  int
}

// V1 returns the parameter set of scheme chaos-v1:
// r=3.99, sigma=10, rho=28, beta=8/3, Euler step 0.01, 1000 burn-in steps.
func V1() Params {
	return Params{
		version: 1,
		r:       399 * logisticRUnit / 100,
		sigma:   10 << fracBits,
		rho:     28 << fracBits,
		beta:    8 << fracBits / 3,
		dt:      1 << fracBits / 100,
		burnIn:  1000,
	}
}

// NewParams builds a custom parameter set from real values.
// The conversion to fixed point rounds to nearest, which is exact and platform independent.
func NewParams(version uint8, r, sigma, rho, beta, dt float64, burnIn int) (Params, error) {
	for _, v := range []float64{r, sigma, rho, beta, dt} {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1024 {
			return Params{}, fmt.Errorf("%w: non-finite or out of range value %v", ErrParams, v)
		}
	}

	if r < 3.57 || r >= 4 {
		return Params{}, fmt.Errorf("%w: logistic r=%v outside [3.57, 4.0)", ErrParams, r)
	}

	p := Params{
		version: version,
		r:       uint64(math.Round(r * logisticRUnit)),
		sigma:   q32FromFloat(sigma),
		rho:     q32FromFloat(rho),
		beta:    q32FromFloat(beta),
		dt:      q32FromFloat(dt),
		burnIn:  burnIn,
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}

	return p, nil
}

// Validate checks that the set describes a chaotic, integrable configuration.
func (p Params) Validate() error {
	switch {
	case p.version == 0:
		return fmt.Errorf("%w: missing version", ErrParams)
	case p.r < minLogisticR:
		return fmt.Errorf("%w: logistic r outside [3.57, 4.0)", ErrParams)
	case p.dt <= 0 || p.dt > maxDt:
		return fmt.Errorf("%w: integration step outside (0, 0.05]", ErrParams)
	case p.sigma <= 0 || p.rho <= 0 || p.beta <= 0:
		return fmt.Errorf("%w: Lorenz coefficients must be positive", ErrParams)
	case p.burnIn < minBurnIn:
		return fmt.Errorf("%w: burn-in %d below %d", ErrParams, p.burnIn, minBurnIn)
	}

	return nil
}

// Version returns the parameter set version.
func (p Params) Version() uint8 { return p.version }

// BurnIn returns the number of discarded transient steps.
func (p Params) BurnIn() int { return p.burnIn }

// Scheme names the set in persisted records, e.g. "chaos-v1".
func (p Params) Scheme() string {
	return fmt.Sprintf("chaos-v%d", p.version)
}

// Lookup resolves a scheme name to its published parameter set.
func Lookup(scheme string) (Params, error) {
	if v1 := V1(); scheme == v1.Scheme() {
		return v1, nil
	}

	return Params{}, fmt.Errorf("%w: unknown scheme %q", ErrParams, scheme)
}
