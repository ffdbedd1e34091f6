package hotune

import (
	"fmt"
	"math"
	"sync"
)

// Decision is a scheduler's verdict on a running trial.
type Decision int

const (
	// Continue lets the trial run.
	Continue Decision = iota

	// Stop terminates the trial.
	Stop
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d == Stop {
		return "STOP"
	}

	return "CONTINUE"
}

// Scheduler decides which running trials to stop early.
type Scheduler interface {
	// SetSearchProperties passes the driver's metric and mode. A scheduler
	// constructed with its own values keeps them.
	SetSearchProperties(metric string, mode Mode) error

	// OnTrialAdd is called when a trial starts.
	OnTrialAdd(t *Trial)

	// OnTrialResult is called for every result and decides whether the
	// trial goes on.
	OnTrialResult(t *Trial, r Result) Decision

	// OnTrialComplete is called once a trial finished, errored or not.
	OnTrialComplete(t *Trial)
}

// FIFOScheduler runs every trial to completion.
type FIFOScheduler struct{}

// SetSearchProperties implements Scheduler.
func (FIFOScheduler) SetSearchProperties(string, Mode) error { return nil }

// OnTrialAdd implements Scheduler.
func (FIFOScheduler) OnTrialAdd(*Trial) {}

// OnTrialResult implements Scheduler.
func (FIFOScheduler) OnTrialResult(*Trial, Result) Decision { return Continue }

// OnTrialComplete implements Scheduler.
func (FIFOScheduler) OnTrialComplete(*Trial) {}

//////
// Asynchronous successive halving.
//////

// rung is a milestone of a bracket and the rewards recorded there.
type rung struct {
	milestone float64
	recorded  map[string]float64
}

// bracket holds rungs in decreasing milestone order.
type bracket struct {
	rf    float64
	rungs []*rung
}

func newBracket(minT, maxT, rf float64, s int) *bracket {
	b := &bracket{rf: rf}

	n := int(math.Log(maxT/minT)/math.Log(rf) - float64(s) + 1)
	for k := n - 1; k >= 0; k-- {
		b.rungs = append(b.rungs, &rung{
			milestone: minT * math.Pow(rf, float64(k+s)),
			recorded:  map[string]float64{},
		})
	}

	return b
}

// onResult records reward (higher is better) at the highest rung reached
// and not yet recorded for the trial. The trial is stopped when it is below
// the top 1/rf of the rewards already recorded there.
func (b *bracket) onResult(trialID string, t, reward float64) Decision {
	for _, r := range b.rungs {
		if _, seen := r.recorded[trialID]; t < r.milestone || seen {
			continue
		}

		values := make([]float64, 0, len(r.recorded))
		for _, v := range r.recorded {
			values = append(values, v)
		}

		decision := Continue
		if cutoff, ok := percentile(values, (1-1/b.rf)*100); ok && reward < cutoff {
			decision = Stop
		}

		r.recorded[trialID] = reward

		return decision
	}

	return Continue
}

// AsyncHyperBandScheduler implements asynchronous successive halving (ASHA).
// Trials are compared at milestones GracePeriod*ReductionFactor^k of
// TimeAttr; at each milestone only the top 1/ReductionFactor go on. Trials
// reaching MaxT are stopped.
type AsyncHyperBandScheduler struct {
	// TimeAttr is the result attribute used as time, training_iteration by
	// default.
	TimeAttr string

	// Metric and Mode may be left empty and set by the driver.
	Metric string
	Mode   Mode

	MaxT            float64
	GracePeriod     float64
	ReductionFactor float64
	Brackets        int

	mu       sync.Mutex
	brackets []*bracket
	assigned map[string]*bracket
	next     int
}

// NewAsyncHyperBandScheduler returns a scheduler with the usual defaults:
// MaxT 100, GracePeriod 1, ReductionFactor 4, one bracket.
func NewAsyncHyperBandScheduler() *AsyncHyperBandScheduler {
	return &AsyncHyperBandScheduler{
		TimeAttr:        TrainingIteration,
		MaxT:            100,
		GracePeriod:     1,
		ReductionFactor: 4,
		Brackets:        1,
	}
}

// SetSearchProperties implements Scheduler.
func (a *AsyncHyperBandScheduler) SetSearchProperties(metric string, mode Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Metric == "" {
		a.Metric = metric
	}

	if a.Mode == "" {
		a.Mode = mode
	}

	if a.Metric == "" {
		return fmt.Errorf("scheduler: metric not set")
	}

	if err := a.Mode.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if a.TimeAttr == "" {
		a.TimeAttr = TrainingIteration
	}

	if a.GracePeriod <= 0 || a.MaxT < a.GracePeriod {
		return fmt.Errorf("scheduler: need 0 < grace period (%v) <= max_t (%v)", a.GracePeriod, a.MaxT)
	}

	if a.ReductionFactor <= 1 {
		return fmt.Errorf("scheduler: reduction factor must be > 1, got %v", a.ReductionFactor)
	}

	if a.Brackets < 1 {
		a.Brackets = 1
	}

	a.brackets = a.brackets[:0]
	for s := 0; s < a.Brackets; s++ {
		a.brackets = append(a.brackets, newBracket(a.GracePeriod, a.MaxT, a.ReductionFactor, s))
	}

	a.assigned = map[string]*bracket{}

	return nil
}

// OnTrialAdd implements Scheduler. Brackets are assigned round-robin.
func (a *AsyncHyperBandScheduler) OnTrialAdd(t *Trial) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.brackets) == 0 {
		return
	}

	a.assigned[t.ID] = a.brackets[a.next%len(a.brackets)]
	a.next++
}

// OnTrialResult implements Scheduler.
func (a *AsyncHyperBandScheduler) OnTrialResult(t *Trial, r Result) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.assigned[t.ID]
	if !ok {
		return Continue
	}

	now, ok := r.Value(a.TimeAttr)
	if !ok {
		return Continue
	}

	if now >= a.MaxT {
		return Stop
	}

	v, ok := r.Value(a.Metric)
	if !ok {
		return Continue
	}

	return b.onResult(t.ID, now, -a.Mode.loss(v))
}

// OnTrialComplete implements Scheduler.
func (a *AsyncHyperBandScheduler) OnTrialComplete(t *Trial) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.assigned, t.ID)
}

// Milestones returns the rung milestones of every bracket.
func (a *AsyncHyperBandScheduler) Milestones() [][]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([][]float64, len(a.brackets))
	for i, b := range a.brackets {
		for _, r := range b.rungs {
			out[i] = append(out[i], r.milestone)
		}
	}

	return out
}
