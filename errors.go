package hotune

import "errors"

var (
	// ErrConfigMismatch is returned when a configuration does not match the
	// declared search space (missing, extra or out-of-domain keys).
	ErrConfigMismatch = errors.New("configuration does not match search space")

	// ErrRewardsLength is returned when warm-start points and their known
	// rewards have different lengths.
	ErrRewardsLength = errors.New("points to evaluate and evaluated rewards must have the same length")

	// ErrMetricMissing is returned when a trial reports a result without the
	// metric being optimized.
	ErrMetricMissing = errors.New("reported result does not contain the optimization metric")

	// ErrTrialStopped is returned by Reporter.Report once the scheduler
	// decided to stop the trial. Trainables should return it (or nil).
	ErrTrialStopped = errors.New("trial stopped by scheduler")

	// ErrTrialsFailed is returned by Run when one or more trials errored.
	ErrTrialsFailed = errors.New("trials did not complete successfully")

	// ErrSearcherStalled is returned by Run when the searcher produces no
	// suggestion while no trial is running.
	ErrSearcherStalled = errors.New("searcher produced no suggestion and no trial is running")

	// ErrNoResults is returned by Analysis when no trial reported the metric.
	ErrNoResults = errors.New("no trial reported the optimization metric")

	// ErrInvalidMode is returned for optimization modes other than min or max.
	ErrInvalidMode = errors.New(`mode must be "min" or "max"`)

	// ErrInvalidDomain is returned for malformed parameter domains.
	ErrInvalidDomain = errors.New("invalid parameter domain")
)
