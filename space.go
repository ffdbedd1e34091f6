package hotune

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"sort"

	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"
)

//////
// Domains.
//////

// Domain is the set of values one parameter may take. Tunable domains map
// their values onto the unit interval so the model can compare them.
type Domain interface {
	// Sample draws a random value.
	Sample(rng *rand.Rand) any

	// Encode maps v onto [0, 1].
	Encode(v any) (float64, error)

	// Decode maps u in [0, 1] back onto a value of the domain.
	Decode(u float64) any

	// Contains reports whether v belongs to the domain.
	Contains(v any) bool

	// Tunable is false for constants, which are not searched.
	Tunable() bool

	// Validate checks the domain definition.
	Validate() error
}

// ParameterRange defines the valid range for a numeric hyperparameter.
//
// Type Parameter:
//   - T: The numeric type of the parameter. Integer types sample uniformly
//     among the integers of the range, float types sample a real number.
//
// Fields:
// - Min: The minimum (inclusive) value
// - Max: The maximum (inclusive) value
// - Log: Sample uniformly in log space (Min must be positive)
//
// Usage:
//
//	width := Uniform(0, 20)
//	lr := LogUniform(1e-4, 1e-1)
//	layers := RandInt(1, 8)
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	Min T
	Max T
	Log bool
}

// Uniform returns a float range sampled uniformly in [min, max].
func Uniform(min, max float64) ParameterRange[float64] {
	return ParameterRange[float64]{Min: min, Max: max}
}

// LogUniform returns a float range sampled uniformly in log space.
func LogUniform(min, max float64) ParameterRange[float64] {
	return ParameterRange[float64]{Min: min, Max: max, Log: true}
}

// RandInt returns an integer range; both bounds are inclusive.
func RandInt(min, max int) ParameterRange[int] {
	return ParameterRange[int]{Min: min, Max: max}
}

func (p ParameterRange[T]) integral() bool {
	switch any(p.Min).(type) {
	case float32, float64:
		return false
	}

	return true
}

// Validate implements Domain.
func (p ParameterRange[T]) Validate() error {
	if p.Min > p.Max {
		return fmt.Errorf("%w: min %v greater than max %v", ErrInvalidDomain, p.Min, p.Max)
	}

	if p.Log && p.Min <= 0 {
		return fmt.Errorf("%w: log range needs a positive min, got %v", ErrInvalidDomain, p.Min)
	}

	return nil
}

// Tunable implements Domain.
func (p ParameterRange[T]) Tunable() bool { return true }

// Sample implements Domain.
func (p ParameterRange[T]) Sample(rng *rand.Rand) any {
	return p.Decode(rng.Float64())
}

// Decode implements Domain.
func (p ParameterRange[T]) Decode(u float64) any {
	u = clamp(u, 0, 1)
	lo, hi := float64(p.Min), float64(p.Max)

	if p.integral() {
		if p.Log {
			v := math.Exp(math.Log(lo) + u*(math.Log(hi+1)-math.Log(lo)))

			return T(clamp(math.Floor(v), lo, hi))
		}

		return T(clamp(lo+math.Floor(u*(hi-lo+1)), lo, hi))
	}

	if p.Log {
		return T(clamp(math.Exp(math.Log(lo)+u*(math.Log(hi)-math.Log(lo))), lo, hi))
	}

	return T(lo + u*(hi-lo))
}

// Encode implements Domain. Integer values map to the centre of their cell
// so Decode(Encode(v)) == v.
func (p ParameterRange[T]) Encode(v any) (float64, error) {
	if !p.Contains(v) {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrConfigMismatch, v, p.Min, p.Max)
	}

	f, _ := toFloat64(v)
	lo, hi := float64(p.Min), float64(p.Max)

	switch {
	case p.integral() && p.Log:
		return (math.Log(f+0.5) - math.Log(lo)) / (math.Log(hi+1) - math.Log(lo)), nil
	case p.integral():
		return (f - lo + 0.5) / (hi - lo + 1), nil
	case lo == hi:
		return 0, nil
	case p.Log:
		return (math.Log(f) - math.Log(lo)) / (math.Log(hi) - math.Log(lo)), nil
	}

	return (f - lo) / (hi - lo), nil
}

// Contains implements Domain.
func (p ParameterRange[T]) Contains(v any) bool {
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) {
		return false
	}

	if p.integral() && f != math.Trunc(f) {
		return false
	}

	return f >= float64(p.Min) && f <= float64(p.Max)
}

// Categorical is a parameter taking one of a fixed list of values.
type Categorical struct {
	Values []any
}

// Choice returns a Categorical over values.
func Choice(values ...any) Categorical {
	return Categorical{Values: values}
}

// Validate implements Domain.
func (c Categorical) Validate() error {
	if len(c.Values) == 0 {
		return fmt.Errorf("%w: choice without categories", ErrInvalidDomain)
	}

	return nil
}

// Tunable implements Domain.
func (c Categorical) Tunable() bool { return true }

// Sample implements Domain.
func (c Categorical) Sample(rng *rand.Rand) any {
	return c.Values[rng.Intn(len(c.Values))]
}

// Decode implements Domain.
func (c Categorical) Decode(u float64) any {
	n := len(c.Values)

	return c.Values[clamp(int(math.Floor(clamp(u, 0, 1)*float64(n))), 0, n-1)]
}

// Encode implements Domain.
func (c Categorical) Encode(v any) (float64, error) {
	for i, cat := range c.Values {
		if equalValues(cat, v) {
			return (float64(i) + 0.5) / float64(len(c.Values)), nil
		}
	}

	return 0, fmt.Errorf("%w: %v not one of %v", ErrConfigMismatch, v, c.Values)
}

// Contains implements Domain.
func (c Categorical) Contains(v any) bool {
	_, err := c.Encode(v)

	return err == nil
}

// Constant is a fixed parameter passed through to every trial.
type Constant struct {
	Value any
}

// Const returns a Constant domain.
func Const(v any) Constant {
	return Constant{Value: v}
}

// Validate implements Domain.
func (c Constant) Validate() error { return nil }

// Tunable implements Domain.
func (c Constant) Tunable() bool { return false }

// Sample implements Domain.
func (c Constant) Sample(*rand.Rand) any { return c.Value }

// Decode implements Domain.
func (c Constant) Decode(float64) any { return c.Value }

// Encode implements Domain.
func (c Constant) Encode(v any) (float64, error) {
	if !c.Contains(v) {
		return 0, fmt.Errorf("%w: %v is not the constant %v", ErrConfigMismatch, v, c.Value)
	}

	return 0, nil
}

// Contains implements Domain.
func (c Constant) Contains(v any) bool { return equalValues(c.Value, v) }

//////
// Space.
//////

// Space maps parameter names to their domains.
type Space map[string]Domain

// Keys returns all parameter names, sorted.
func (s Space) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// tunableKeys returns the sorted names of tunable parameters. Their order is
// the order of the encoded vector.
func (s Space) tunableKeys() []string {
	return slices.DeleteFunc(s.Keys(), func(k string) bool { return !s[k].Tunable() })
}

// Dims is the length of encoded vectors.
func (s Space) Dims() int {
	return len(s.tunableKeys())
}

// Check validates every domain of the space.
func (s Space) Check() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty search space", ErrInvalidDomain)
	}

	for _, k := range s.Keys() {
		if s[k] == nil {
			return fmt.Errorf("%w: %q has no domain", ErrInvalidDomain, k)
		}

		if err := s[k].Validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", k, err)
		}
	}

	return nil
}

// Sample draws a random configuration.
func (s Space) Sample(rng *rand.Rand) Config {
	cfg := make(Config, len(s))
	for _, k := range s.Keys() {
		cfg[k] = s[k].Sample(rng)
	}

	return cfg
}

// Encode maps the tunable parameters of cfg onto the unit cube.
func (s Space) Encode(cfg Config) ([]float64, error) {
	keys := s.tunableKeys()
	x := make([]float64, len(keys))

	for i, k := range keys {
		v, ok := cfg[k]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrConfigMismatch, k)
		}

		u, err := s[k].Encode(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}

		x[i] = u
	}

	return x, nil
}

// Decode maps a point of the unit cube back onto a full configuration,
// constants included.
func (s Space) Decode(x []float64) Config {
	cfg := make(Config, len(s))

	for i, k := range s.tunableKeys() {
		cfg[k] = s[k].Decode(x[i])
	}

	for k, d := range s {
		if !d.Tunable() {
			cfg[k] = d.Decode(0)
		}
	}

	return cfg
}

// Complete fills the constants missing from a partial configuration, as
// warm-start points usually omit them. Tunable parameters must be present.
func (s Space) Complete(partial Config) (Config, error) {
	cfg := partial.Clone()

	for k, d := range s {
		if _, ok := cfg[k]; !ok && !d.Tunable() {
			cfg[k] = d.Decode(0)
		}
	}

	return cfg, s.Validate(cfg)
}

// Validate checks that cfg has exactly the keys of the space and that every
// value belongs to its domain.
func (s Space) Validate(cfg Config) error {
	for k := range cfg {
		if _, ok := s[k]; !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrConfigMismatch, k)
		}
	}

	for _, k := range s.Keys() {
		v, ok := cfg[k]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrConfigMismatch, k)
		}

		if !s[k].Contains(v) {
			return fmt.Errorf("%w: %q=%v outside its domain", ErrConfigMismatch, k, v)
		}
	}

	return nil
}

//////
// Design space files.
//////

// spaceEntry is one parameter of a design space file.
type spaceEntry struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Lb         *float64 `yaml:"lb"`
	Ub         *float64 `yaml:"ub"`
	Log        bool     `yaml:"log"`
	Categories []any    `yaml:"categories"`
	Value      any      `yaml:"value"`
}

// ParseSpace decodes a design space document: a YAML (or JSON) list of
//
//	- {name: width, type: num, lb: 0, ub: 20}
//	- {name: layers, type: int, lb: 1, ub: 8}
//	- {name: activation, type: cat, categories: [relu, tanh]}
//	- {name: steps, type: const, value: 100}
//
// Unknown fields are rejected.
func ParseSpace(data []byte) (Space, error) {
	var entries []spaceEntry

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse design space: %w", err)
	}

	space := make(Space, len(entries))

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry without name", ErrInvalidDomain)
		}

		if _, dup := space[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidDomain, e.Name)
		}

		d, err := e.domain()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", e.Name, err)
		}

		space[e.Name] = d
	}

	return space, space.Check()
}

// LoadSpace reads a design space file. See ParseSpace.
func LoadSpace(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read design space: %w", err)
	}

	return ParseSpace(data)
}

func (e spaceEntry) domain() (Domain, error) {
	switch e.Type {
	case "num", "int":
		if e.Lb == nil || e.Ub == nil {
			return nil, fmt.Errorf("%w: %s needs lb and ub", ErrInvalidDomain, e.Type)
		}

		if e.Type == "int" {
			return ParameterRange[int]{Min: int(*e.Lb), Max: int(*e.Ub), Log: e.Log}, nil
		}

		return ParameterRange[float64]{Min: *e.Lb, Max: *e.Ub, Log: e.Log}, nil
	case "cat":
		return Choice(e.Categories...), nil
	case "const":
		return Const(e.Value), nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDomain, e.Type)
}
