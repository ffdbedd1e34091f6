package hotune

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

const (
	StatusPending    TrialStatus = "PENDING"
	StatusRunning    TrialStatus = "RUNNING"
	StatusTerminated TrialStatus = "TERMINATED"
	StatusError      TrialStatus = "ERROR"
)

// Trial is one run of the trainable with a specific configuration.
//
// Trials are owned by the driver's event loop; read them only after Run
// returned or from a ProgressUpdate.
type Trial struct {
	ID         string      `yaml:"trial_id"`
	Config     Config      `yaml:"config"`
	Status     TrialStatus `yaml:"status"`
	Stopped    bool        `yaml:"stopped_early,omitempty"`
	Error      string      `yaml:"error,omitempty"`
	StartedAt  time.Time   `yaml:"started_at"`
	FinishedAt time.Time   `yaml:"finished_at,omitempty"`
	LastResult *Result     `yaml:"last_result,omitempty"`
	Results    []Result    `yaml:"results,omitempty"`

	// Err is the error the trainable returned, if any.
	Err error `yaml:"-"`
}

// Reporter receives the metrics of every training step.
type Reporter interface {
	// Report records metrics for the next training iteration. It returns
	// ErrTrialStopped once the scheduler stopped the trial, and a wrapped
	// ErrMetricMissing when the optimization metric is absent.
	Report(m Metrics) error
}

// Trainable is the objective run by every trial. It should report once per
// training step and return as soon as Report returns an error.
type Trainable func(ctx context.Context, cfg Config, r Reporter) error

// newTrialIDPrefix returns the per-experiment prefix of trial ids.
func newTrialIDPrefix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func trialID(prefix string, index int) string {
	return fmt.Sprintf("%s_%05d", prefix, index)
}

// trialReporter forwards results to the driver's event loop and waits for
// the scheduler's decision.
type trialReporter struct {
	ctx       context.Context
	trialID   string
	events    chan<- trialEvent
	iteration int
	start     time.Time
}

// Report implements Reporter.
func (r *trialReporter) Report(m Metrics) error {
	r.iteration++

	metrics := make(Metrics, len(m))
	for k, v := range m {
		metrics[k] = v
	}

	reply := make(chan error, 1)
	ev := trialEvent{
		trialID: r.trialID,
		result: &Result{
			TrialID:           r.trialID,
			TrainingIteration: r.iteration,
			TimeTotalS:        time.Since(r.start).Seconds(),
			Metrics:           metrics,
		},
		reply: reply,
	}

	select {
	case r.events <- ev:
	case <-r.ctx.Done():
		return r.ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// trialEvent is a result (result != nil) or a completion sent by a trial
// goroutine.
type trialEvent struct {
	trialID string
	result  *Result
	reply   chan<- error
	err     error
}
