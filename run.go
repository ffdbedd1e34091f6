package hotune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunConfig describes an experiment.
type RunConfig struct {
	// Name of the experiment, also the directory under LocalDir.
	Name string

	// Metric is the reported metric to optimize and Mode its direction.
	Metric string
	Mode   Mode

	// NumSamples is the number of trials to run.
	NumSamples int

	// Space is the search space every configuration must match.
	Space Space

	// Searcher suggests configurations. Defaults to a RandomSearch.
	Searcher Searcher

	// Scheduler stops trials early. Defaults to FIFOScheduler.
	Scheduler Scheduler

	// MaxConcurrentTrials caps running trials; 0 means no driver-side cap.
	MaxConcurrentTrials int

	// LocalDir, when set, receives <Name>/experiment_state.yaml.
	LocalDir string

	// Seed of the default RandomSearch.
	Seed int64

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// ProgressChan is used to send progress updates. If nil, no updates will
	// be sent. Updates are dropped when the channel is full.
	ProgressChan chan<- ProgressUpdate
}

// DefaultRunConfig returns a configuration minimizing "loss" with one sample.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Name:       "experiment",
		Metric:     "loss",
		Mode:       ModeMin,
		NumSamples: 1,
		Logger:     logrus.StandardLogger(),
	}
}

func (c *RunConfig) validate() error {
	if c.Metric == "" {
		return errors.New("run: metric not set")
	}

	if err := c.Mode.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if c.NumSamples < 1 {
		return fmt.Errorf("run: num samples must be positive, got %d", c.NumSamples)
	}

	if err := c.Space.Check(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if c.Name == "" {
		c.Name = "experiment"
	}

	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}

	if c.Searcher == nil {
		c.Searcher = NewRandomSearch(c.Seed)
	}

	if c.Scheduler == nil {
		c.Scheduler = FIFOScheduler{}
	}

	return nil
}

// runner is the driver's event loop state. Only the loop goroutine touches
// it; trial goroutines communicate through events.
type runner struct {
	cfg       RunConfig
	trainable Trainable
	log       logrus.FieldLogger

	prefix   string
	trials   []*Trial
	byID     map[string]*Trial
	events   chan trialEvent
	running  int
	finished int
	failed   int

	best      *Trial
	bestValue float64
}

// Run executes NumSamples trials of trainable, asking cfg.Searcher for
// configurations and cfg.Scheduler whether to stop running trials early.
//
// Trials run concurrently, each on its own goroutine; the searcher and the
// scheduler are only called from the driver's event loop. Run returns once
// every trial finished, the searcher stalled, or ctx was cancelled.
//
// The returned Analysis is non-nil whenever trials were started, even when
// an error is returned. When trials errored the error wraps ErrTrialsFailed.
func Run(ctx context.Context, trainable Trainable, cfg RunConfig) (*Analysis, error) {
	if trainable == nil {
		return nil, errors.New("run: nil trainable")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Searcher.SetSearchProperties(cfg.Metric, cfg.Mode, cfg.Space); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	if err := cfg.Scheduler.SetSearchProperties(cfg.Metric, cfg.Mode); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	r := &runner{
		cfg:       cfg,
		trainable: trainable,
		log:       cfg.Logger.WithField("experiment", cfg.Name),
		prefix:    newTrialIDPrefix(),
		byID:      map[string]*Trial{},
		events:    make(chan trialEvent),
	}

	trialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group

	r.log.WithFields(logrus.Fields{
		"metric":      cfg.Metric,
		"mode":        cfg.Mode,
		"num_samples": cfg.NumSamples,
	}).Info("Starting experiment")

	start := time.Now()
	loopErr := r.loop(trialCtx, &g)

	cancel()
	_ = g.Wait()

	for _, t := range r.trials {
		if t.Status == StatusRunning {
			t.Status = StatusError
			t.Err = loopErr
			t.Error = fmt.Sprint(loopErr)
			t.FinishedAt = time.Now()
		}
	}

	analysis := &Analysis{
		Name:   cfg.Name,
		Metric: cfg.Metric,
		Mode:   cfg.Mode,
		Trials: r.trials,
	}

	r.log.WithFields(logrus.Fields{
		"trials":   len(r.trials),
		"errored":  r.failed,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Experiment finished")

	if cfg.LocalDir != "" {
		path, err := analysis.Save(cfg.LocalDir)
		if err != nil {
			r.log.WithError(err).Error("Failed to save experiment state")
		} else {
			r.log.Debugf("Experiment state written to %s", path)
		}
	}

	if loopErr != nil {
		return analysis, loopErr
	}

	if r.failed > 0 {
		return analysis, fmt.Errorf("%w: %d of %d trials errored", ErrTrialsFailed, r.failed, len(r.trials))
	}

	return analysis, nil
}

func (r *runner) loop(ctx context.Context, g *errgroup.Group) error {
	for {
		if err := r.launch(ctx, g); err != nil {
			return err
		}

		if r.running == 0 {
			if len(r.trials) >= r.cfg.NumSamples {
				return nil
			}

			return fmt.Errorf("%w after %d trials", ErrSearcherStalled, len(r.trials))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			if ev.result != nil {
				ev.reply <- r.onResult(ev.trialID, *ev.result)
			} else {
				r.onComplete(ev.trialID, ev.err)
			}
		}
	}
}

// launch starts as many trials as the budget, the driver cap and the
// searcher allow.
func (r *runner) launch(ctx context.Context, g *errgroup.Group) error {
	for len(r.trials) < r.cfg.NumSamples {
		if r.cfg.MaxConcurrentTrials > 0 && r.running >= r.cfg.MaxConcurrentTrials {
			return nil
		}

		id := trialID(r.prefix, len(r.trials))

		cfg, ok := r.cfg.Searcher.Suggest(id)
		if !ok {
			return nil
		}

		if err := r.cfg.Space.Validate(cfg); err != nil {
			return fmt.Errorf("searcher suggested an invalid configuration for trial %s: %w", id, err)
		}

		t := &Trial{
			ID:        id,
			Config:    cfg,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		}

		r.trials = append(r.trials, t)
		r.byID[id] = t
		r.running++
		r.cfg.Scheduler.OnTrialAdd(t)

		r.log.WithFields(logrus.Fields{"trial": id, "config": cfg}).Debug("Trial started")
		r.progress(PhaseTrialStarted, t)

		g.Go(func() error {
			r.execute(ctx, id, cfg.Clone())

			return nil
		})
	}

	return nil
}

// execute runs the trainable on the trial goroutine and reports completion.
func (r *runner) execute(ctx context.Context, id string, cfg Config) {
	reporter := &trialReporter{
		ctx:     ctx,
		trialID: id,
		events:  r.events,
		start:   time.Now(),
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("trainable panicked: %v", p)
			}
		}()

		return r.trainable(ctx, cfg, reporter)
	}()

	select {
	case r.events <- trialEvent{trialID: id, err: err}:
	case <-ctx.Done():
	}
}

func (r *runner) onResult(id string, res Result) error {
	t := r.byID[id]

	if _, ok := res.Value(r.cfg.Metric); !ok {
		return fmt.Errorf("%w: %q not in %v", ErrMetricMissing, r.cfg.Metric, res.Metrics)
	}

	if t.Stopped {
		return ErrTrialStopped
	}

	t.Results = append(t.Results, res)
	t.LastResult = &res

	r.cfg.Searcher.OnTrialResult(id, res)
	r.progress(PhaseTrialResult, t)

	if r.cfg.Scheduler.OnTrialResult(t, res) == Stop {
		t.Stopped = true

		r.log.WithFields(logrus.Fields{
			"trial":     id,
			"iteration": res.TrainingIteration,
		}).Debug("Trial stopped by scheduler")

		return ErrTrialStopped
	}

	return nil
}

func (r *runner) onComplete(id string, err error) {
	t := r.byID[id]

	r.running--
	r.finished++
	t.FinishedAt = time.Now()

	var last *Result
	if t.LastResult != nil {
		res := *t.LastResult
		last = &res
	}

	if err != nil && !errors.Is(err, ErrTrialStopped) {
		t.Status = StatusError
		t.Err = err
		t.Error = err.Error()
		r.failed++

		r.cfg.Searcher.OnTrialComplete(id, nil, true)
		r.cfg.Scheduler.OnTrialComplete(t)

		r.log.WithFields(logrus.Fields{"trial": id}).WithError(err).Error("Trial errored")
		r.progress(PhaseTrialErrored, t)

		return
	}

	t.Status = StatusTerminated

	r.cfg.Searcher.OnTrialComplete(id, last, false)
	r.cfg.Scheduler.OnTrialComplete(t)

	if last != nil {
		if v, ok := last.Value(r.cfg.Metric); ok && (r.best == nil || r.cfg.Mode.better(v, r.bestValue)) {
			r.best, r.bestValue = t, v
		}
	}

	r.log.WithFields(logrus.Fields{
		"trial":      id,
		"iterations": len(t.Results),
		"stopped":    t.Stopped,
	}).Info("Trial completed")
	r.progress(PhaseTrialCompleted, t)
}

// progress sends an update without blocking.
func (r *runner) progress(phase string, t *Trial) {
	if r.cfg.ProgressChan == nil {
		return
	}

	update := ProgressUpdate{
		Experiment:    r.cfg.Name,
		Phase:         phase,
		TrialID:       t.ID,
		Completed:     r.finished,
		Total:         r.cfg.NumSamples,
		CurrentConfig: t.Config.Clone(),
		Time:          time.Now(),
	}

	if t.LastResult != nil {
		update.LastValue, _ = t.LastResult.Value(r.cfg.Metric)
	}

	if r.best != nil {
		update.CurrentBestConfig = r.best.Config.Clone()
		update.CurrentBestValue = r.bestValue
	}

	select {
	case r.cfg.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}
