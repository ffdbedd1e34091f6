package hotune

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

//////
// Const, vars, types.
//////

// Mode is the optimization direction of a metric.
type Mode string

const (
	// ModeMin minimizes the metric.
	ModeMin Mode = "min"

	// ModeMax maximizes the metric.
	ModeMax Mode = "max"
)

// Names of the attributes the driver stamps on every result.
const (
	TrainingIteration = "training_iteration"
	TimeTotalS        = "time_total_s"
)

// Validate returns ErrInvalidMode unless m is ModeMin or ModeMax.
func (m Mode) Validate() error {
	if m != ModeMin && m != ModeMax {
		return fmt.Errorf("%w: got %q", ErrInvalidMode, string(m))
	}

	return nil
}

// loss converts a metric value into a value where lower is better.
func (m Mode) loss(v float64) float64 {
	if m == ModeMax {
		return -v
	}

	return v
}

// better reports whether a is strictly better than b under m.
func (m Mode) better(a, b float64) bool {
	return m.loss(a) < m.loss(b)
}

// Config is a trial configuration: parameter name to value.
type Config map[string]any

// Clone returns a shallow copy of c.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// Float returns the named parameter as a float64. Any numeric value is
// accepted.
func (c Config) Float(name string) (float64, error) {
	v, ok := c[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrConfigMismatch, name)
	}

	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q is %T, not numeric", ErrConfigMismatch, name, v)
	}

	return f, nil
}

// Int returns the named parameter as an int. Float values must be integral.
func (c Config) Int(name string) (int, error) {
	f, err := c.Float(name)
	if err != nil {
		return 0, err
	}

	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q is %v, not an integer", ErrConfigMismatch, name, f)
	}

	return int(f), nil
}

// String returns the named parameter as a string.
func (c Config) String(name string) (string, error) {
	v, ok := c[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrConfigMismatch, name)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is %T, not a string", ErrConfigMismatch, name, v)
	}

	return s, nil
}

// Metrics are the values a trial reports for one training step.
type Metrics map[string]float64

// Result is one reported training step of a trial.
type Result struct {
	TrialID           string  `yaml:"trial_id"`
	TrainingIteration int     `yaml:"training_iteration"`
	TimeTotalS        float64 `yaml:"time_total_s"`
	Metrics           Metrics `yaml:"metrics"`
}

// Value returns the named metric. The driver-stamped attributes
// training_iteration and time_total_s are also resolved.
func (r Result) Value(name string) (float64, bool) {
	switch name {
	case TrainingIteration:
		return float64(r.TrainingIteration), true
	case TimeTotalS:
		return r.TimeTotalS, true
	}

	v, ok := r.Metrics[name]

	return v, ok
}

// ProgressUpdate represents the current state of an experiment. It is sent,
// without blocking, on RunConfig.ProgressChan after every trial event.
type ProgressUpdate struct {
	// Experiment is the RunConfig name.
	Experiment string

	// Phase is one of TrialStarted, TrialResult, TrialCompleted, TrialErrored.
	Phase string

	// TrialID of the trial that caused the update.
	TrialID string

	// Completed is the number of finished trials (including errored ones).
	Completed int

	// Total is the sample budget.
	Total int

	// CurrentConfig holds the configuration of the trial that caused the update.
	CurrentConfig Config

	// CurrentBestConfig holds the best configuration found so far, if any.
	CurrentBestConfig Config

	// CurrentBestValue holds the best final metric value found so far.
	CurrentBestValue float64

	// LastValue holds the metric value of the last result of the trial.
	LastValue float64

	// Time at which the update was produced.
	Time time.Time
}

// Progress phases.
const (
	PhaseTrialStarted   = "TrialStarted"
	PhaseTrialResult    = "TrialResult"
	PhaseTrialCompleted = "TrialCompleted"
	PhaseTrialErrored   = "TrialErrored"
)

// AcquisitionFunc scores a candidate point from the model's predicted mean
// and variance of the loss. Lower values are more promising.
//
// Built-in acquisition functions:
// - UCB: Upper (here: lower) Confidence Bound
// - ProbabilityOfImprovement
// - ExpectedImprovement
// - ThompsonSampling
//
// Custom acquisition functions must be deterministic for a given RandomState
// and return lower values for more promising points.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the acquisition functions.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off of UCB.
	// Typical values range from 0.1 to 5.0, with 2.0 being a good default.
	Beta float64

	// Xi is the minimum improvement over BestSoFar that PI and EI look for.
	// Typical values range from 0.01 to 0.1.
	Xi float64

	// BestSoFar is the lowest observed loss. Maintained by the searcher.
	BestSoFar float64

	// RandomState is used by Thompson Sampling. The searcher installs its own
	// seeded generator when nil.
	RandomState *rand.Rand
}

// SearchConfig holds all configuration parameters of BayesSearch.
//
// Usage example:
//
//	cfg := DefaultSearchConfig()
//	cfg.PointsToEvaluate = []Config{{"width": 10, "height": 0}}
//	cfg.EvaluatedRewards = []float64{-189}
//	cfg.NumSuggestions = 8
//	cfg.Seed = 123
type SearchConfig struct {
	// Space is the search space. When nil it is taken from the driver.
	Space Space

	// Metric and Mode may be left empty and set by the driver.
	Metric string
	Mode   Mode

	// PointsToEvaluate are configurations to try first. Missing constant
	// parameters are filled from the space.
	PointsToEvaluate []Config

	// EvaluatedRewards are the known metric values of PointsToEvaluate. When
	// set, the points are fed to the model and never run.
	EvaluatedRewards []float64

	// Seed makes suggestions reproducible.
	Seed int64

	// NumSuggestions is the batch size of each proposal round. Values above 1
	// enable mutation of the best observed points.
	NumSuggestions int

	// InitialSamples is the number of observations gathered by random sampling
	// before the model is used.
	InitialSamples int

	// NumCandidates is the number of random candidates scored per proposal.
	NumCandidates int

	// MutationRate is the standard deviation, in the unit cube, of the
	// gaussian mutation applied to parents.
	MutationRate float64

	// KernelWidth is the RBF kernel width over the unit cube.
	KernelWidth float64

	// AcquisitionFunc determines the strategy for selecting the next points.
	AcquisitionFunc AcquisitionFunc

	// AcqParams holds the parameters for the acquisition function.
	AcqParams AcquisitionParams
}
