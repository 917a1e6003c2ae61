package flowline

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// DistSpec selects a duration distribution in a scenario file.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// DurationSampler draws non-negative durations in simulated time units.
type DurationSampler interface {
	Sample(rng *rand.Rand) float64
}

// ExponentialSampler produces exponentially distributed durations.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// GaussianSampler produces Gaussian durations clamped to [min, max].
type GaussianSampler struct {
	mean, stdDev float64
	min, max     float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	return math.Min(s.max, math.Max(s.min, val))
}

// UniformSampler produces durations uniformly distributed in [min, max).
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	return s.min + rng.Float64()*(s.max-s.min)
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions,
// useful for heavy-tailed repair or rework times. With probability mixWeight
// it draws from Pareto(alpha, xm), otherwise from LogNormal(mu, sigma).
type ParetoLogNormalSampler struct {
	alpha     float64
	xm        float64
	mu        float64
	sigma     float64
	mixWeight float64
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) float64 {
	var val float64
	if rng.Float64() < s.mixWeight {
		u := rng.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		val = s.xm / math.Pow(u, 1.0/s.alpha)
	} else {
		val = math.Exp(s.mu + s.sigma*rng.NormFloat64())
	}
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return s.xm
	}
	return val
}

// EmpiricalSampler samples from an empirical distribution using the inverse
// CDF.
type EmpiricalSampler struct {
	values []float64
	cdf    []float64
}

// NewEmpiricalSampler creates a sampler from a map of duration to
// probability. Probabilities are normalized; non-positive ones are skipped.
func NewEmpiricalSampler(pdf map[float64]float64) *EmpiricalSampler {
	keys := make([]float64, 0, len(pdf))
	total := 0.0
	for k, p := range pdf {
		if p > 0 {
			keys = append(keys, k)
			total += p
		}
	}
	sort.Float64s(keys)

	s := &EmpiricalSampler{}
	cumulative := 0.0
	for _, k := range keys {
		cumulative += pdf[k] / total
		s.values = append(s.values, k)
		s.cdf = append(s.cdf, cumulative)
	}
	if len(s.cdf) > 0 {
		s.cdf[len(s.cdf)-1] = 1.0
	}
	return s
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) float64 {
	switch len(s.values) {
	case 0:
		return 0
	case 1:
		return s.values[0]
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return s.values[idx]
}

// ConstantSampler always returns the same duration.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 { return s.value }

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// requireNonNegative checks that the named params are not negative.
func requireNonNegative(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if params[k] < 0 {
			return fmt.Errorf("distribution parameter %q must not be negative, got %g", k, params[k])
		}
	}
	return nil
}

// NewDurationSampler creates a DurationSampler from a DistSpec.
func NewDurationSampler(spec DistSpec) (DurationSampler, error) {
	p := spec.Params
	switch spec.Type {
	case "exponential":
		if err := requireParam(p, "mean"); err != nil {
			return nil, err
		}
		if err := requireNonNegative(p, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: p["mean"]}, nil

	case "gaussian":
		if err := requireParam(p, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		if err := requireNonNegative(p, "std_dev", "min"); err != nil {
			return nil, err
		}
		if p["max"] < p["min"] {
			return nil, fmt.Errorf("gaussian max %g is below min %g", p["max"], p["min"])
		}
		return &GaussianSampler{mean: p["mean"], stdDev: p["std_dev"], min: p["min"], max: p["max"]}, nil

	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		if err := requireNonNegative(p, "min"); err != nil {
			return nil, err
		}
		if p["max"] < p["min"] {
			return nil, fmt.Errorf("uniform max %g is below min %g", p["max"], p["min"])
		}
		return &UniformSampler{min: p["min"], max: p["max"]}, nil

	case "pareto_lognormal":
		if err := requireParam(p, "alpha", "xm", "mu", "sigma", "mix_weight"); err != nil {
			return nil, err
		}
		if p["alpha"] <= 0 || p["xm"] <= 0 {
			return nil, fmt.Errorf("pareto_lognormal alpha and xm must be positive")
		}
		return &ParetoLogNormalSampler{
			alpha:     p["alpha"],
			xm:        p["xm"],
			mu:        p["mu"],
			sigma:     p["sigma"],
			mixWeight: p["mix_weight"],
		}, nil

	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		if err := requireNonNegative(p, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: p["value"]}, nil

	case "empirical":
		// params map a duration, written as a string key, to its probability.
		pdf := make(map[float64]float64, len(p))
		for k, v := range p {
			d, err := strconv.ParseFloat(k, 64)
			if err != nil {
				return nil, fmt.Errorf("empirical key %q is not a number: %w", k, err)
			}
			if d < 0 {
				return nil, fmt.Errorf("empirical duration %g must not be negative", d)
			}
			pdf[d] = v
		}
		s := NewEmpiricalSampler(pdf)
		if len(s.values) == 0 {
			return nil, fmt.Errorf("empirical distribution has no valid bins")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}

// samplerOrExponential returns the sampler for spec, or an exponential
// sampler with the given mean when spec is nil. A zero mean gives a constant
// zero.
func samplerOrExponential(spec *DistSpec, mean float64) (DurationSampler, error) {
	if spec != nil {
		return NewDurationSampler(*spec)
	}
	if mean == 0 {
		return &ConstantSampler{}, nil
	}
	return &ExponentialSampler{mean: mean}, nil
}
