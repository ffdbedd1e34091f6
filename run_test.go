package hotune

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

// quadratic reports (x - 0.3)^2 + 1/step for every step.
func quadratic(ctx context.Context, cfg Config, r Reporter) error {
	x, err := cfg.Float("x")
	if err != nil {
		return err
	}

	steps, err := cfg.Int("steps")
	if err != nil {
		return err
	}

	for step := 1; step <= steps; step++ {
		if err := r.Report(Metrics{"loss": (x-0.3)*(x-0.3) + 1/float64(step)}); err != nil {
			return err
		}
	}

	return nil
}

func baseRunConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.Name = "test"
	cfg.NumSamples = 5
	cfg.Space = Space{"x": Uniform(0, 1), "steps": Const(3)}
	cfg.Logger = quietLogger()

	return cfg
}

func TestRun(t *testing.T) {
	analysis, err := Run(context.Background(), quadratic, baseRunConfig())
	require.NoError(t, err)

	require.Len(t, analysis.Trials, 5)

	ids := map[string]bool{}

	for _, trial := range analysis.Trials {
		assert.Equal(t, StatusTerminated, trial.Status)
		assert.Len(t, trial.Results, 3)
		assert.Equal(t, 3, trial.LastResult.TrainingIteration)
		assert.Equal(t, trial.ID, trial.LastResult.TrialID)
		assert.False(t, trial.FinishedAt.IsZero())

		ids[trial.ID] = true
	}

	assert.Len(t, ids, 5)

	best, err := analysis.BestTrial()
	require.NoError(t, err)

	for _, trial := range analysis.Trials {
		assert.LessOrEqual(t, best.LastResult.Metrics["loss"], trial.LastResult.Metrics["loss"])
	}

	cfg, err := analysis.BestConfig()
	require.NoError(t, err)
	assert.Equal(t, best.Config, cfg)
}

func TestRunValidation(t *testing.T) {
	ctx := context.Background()

	_, err := Run(ctx, nil, baseRunConfig())
	assert.Error(t, err)

	cfg := baseRunConfig()
	cfg.Metric = ""
	_, err = Run(ctx, quadratic, cfg)
	assert.Error(t, err)

	cfg = baseRunConfig()
	cfg.Mode = "up"
	_, err = Run(ctx, quadratic, cfg)
	assert.ErrorIs(t, err, ErrInvalidMode)

	cfg = baseRunConfig()
	cfg.NumSamples = 0
	_, err = Run(ctx, quadratic, cfg)
	assert.Error(t, err)

	cfg = baseRunConfig()
	cfg.Space = nil
	_, err = Run(ctx, quadratic, cfg)
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestRunMetricMissing(t *testing.T) {
	trainable := func(ctx context.Context, cfg Config, r Reporter) error {
		return r.Report(Metrics{"accuracy": 1})
	}

	analysis, err := Run(context.Background(), trainable, baseRunConfig())
	require.ErrorIs(t, err, ErrTrialsFailed)

	for _, trial := range analysis.Trials {
		assert.Equal(t, StatusError, trial.Status)
		assert.ErrorIs(t, trial.Err, ErrMetricMissing)
		assert.Empty(t, trial.Results)
	}

	_, err = analysis.BestTrial()
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestRunTrialErrors(t *testing.T) {
	boom := errors.New("boom")

	var calls atomic.Int32

	trainable := func(ctx context.Context, cfg Config, r Reporter) error {
		if err := r.Report(Metrics{"loss": 1}); err != nil {
			return err
		}

		switch calls.Add(1) {
		case 1:
			return boom
		case 2:
			panic("kaboom")
		}

		return nil
	}

	analysis, err := Run(context.Background(), trainable, baseRunConfig())
	require.ErrorIs(t, err, ErrTrialsFailed)

	var errored, terminated int

	for _, trial := range analysis.Trials {
		switch trial.Status {
		case StatusError:
			errored++
		case StatusTerminated:
			terminated++
		}
	}

	assert.Equal(t, 2, errored)
	assert.Equal(t, 3, terminated)

	// Errored trials still count their results.
	_, err = analysis.BestTrial()
	assert.NoError(t, err)
}

// stopAt stops every trial at a fixed iteration.
type stopAt struct {
	FIFOScheduler
	iteration int
}

func (s stopAt) OnTrialResult(_ *Trial, r Result) Decision {
	if r.TrainingIteration >= s.iteration {
		return Stop
	}

	return Continue
}

func TestRunSchedulerStopsTrials(t *testing.T) {
	cfg := baseRunConfig()
	cfg.Space["steps"] = Const(10)
	cfg.Scheduler = stopAt{iteration: 2}

	analysis, err := Run(context.Background(), quadratic, cfg)
	require.NoError(t, err)

	for _, trial := range analysis.Trials {
		assert.Equal(t, StatusTerminated, trial.Status)
		assert.True(t, trial.Stopped)
		assert.Len(t, trial.Results, 2)
	}
}

func TestRunIgnoringStopIsHarmless(t *testing.T) {
	cfg := baseRunConfig()
	cfg.Scheduler = stopAt{iteration: 1}

	// This trainable keeps reporting after being told to stop.
	trainable := func(ctx context.Context, c Config, r Reporter) error {
		for i := 0; i < 3; i++ {
			_ = r.Report(Metrics{"loss": float64(i)})
		}

		return nil
	}

	analysis, err := Run(context.Background(), trainable, cfg)
	require.NoError(t, err)

	for _, trial := range analysis.Trials {
		assert.Len(t, trial.Results, 1)
	}
}

func TestRunMaxConcurrentTrials(t *testing.T) {
	var running, peak atomic.Int32

	trainable := func(ctx context.Context, cfg Config, r Reporter) error {
		n := running.Add(1)
		defer running.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)

		return r.Report(Metrics{"loss": 1})
	}

	cfg := baseRunConfig()
	cfg.NumSamples = 8
	cfg.MaxConcurrentTrials = 2

	_, err := Run(context.Background(), trainable, cfg)
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunWithBayesSearchLimiterAndASHA(t *testing.T) {
	searchCfg := DefaultSearchConfig()
	searchCfg.Seed = 3
	searchCfg.NumSuggestions = 3
	searchCfg.PointsToEvaluate = []Config{{"x": 0.5}}
	searchCfg.EvaluatedRewards = []float64{0.04}

	search, err := NewBayesSearch(searchCfg)
	require.NoError(t, err)

	cfg := baseRunConfig()
	cfg.NumSamples = 9
	cfg.Space["steps"] = Const(20)
	cfg.Searcher = NewConcurrencyLimiter(search, 3, true)
	cfg.Scheduler = NewAsyncHyperBandScheduler()

	analysis, err := Run(context.Background(), quadratic, cfg)
	require.NoError(t, err)
	require.Len(t, analysis.Trials, 9)

	// Every completion reached the model, plus the warm start.
	assert.Equal(t, 10, search.NumObservations())

	best, err := analysis.BestConfig()
	require.NoError(t, err)
	assert.NoError(t, cfg.Space.Validate(best))
}

func TestRunContextCancelled(t *testing.T) {
	trainable := func(ctx context.Context, cfg Config, r Reporter) error {
		<-ctx.Done()

		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	analysis, err := Run(ctx, trainable, baseRunConfig())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NotNil(t, analysis)

	for _, trial := range analysis.Trials {
		assert.Equal(t, StatusError, trial.Status)
	}
}

// stalledSearcher never suggests anything.
type stalledSearcher struct{ recordingSearcher }

func TestRunSearcherStalled(t *testing.T) {
	cfg := baseRunConfig()
	cfg.Searcher = &stalledSearcher{}

	_, err := Run(context.Background(), quadratic, cfg)
	assert.ErrorIs(t, err, ErrSearcherStalled)
}

func TestRunInvalidSuggestion(t *testing.T) {
	cfg := baseRunConfig()

	// Suggests {"x": 0} without "steps".
	cfg.Searcher = &recordingSearcher{remaining: 5}

	_, err := Run(context.Background(), quadratic, cfg)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestRunProgressUpdates(t *testing.T) {
	progress := make(chan ProgressUpdate, 100)

	cfg := baseRunConfig()
	cfg.ProgressChan = progress

	_, err := Run(context.Background(), quadratic, cfg)
	require.NoError(t, err)
	close(progress)

	phases := map[string]int{}

	var last ProgressUpdate

	for update := range progress {
		phases[update.Phase]++
		last = update
	}

	assert.Equal(t, 5, phases[PhaseTrialStarted])
	assert.Equal(t, 15, phases[PhaseTrialResult])
	assert.Equal(t, 5, phases[PhaseTrialCompleted])

	assert.Equal(t, "test", last.Experiment)
	assert.Equal(t, 5, last.Total)
	assert.NotNil(t, last.CurrentBestConfig)
}

func TestRunSavesExperimentState(t *testing.T) {
	dir := t.TempDir()

	cfg := baseRunConfig()
	cfg.LocalDir = dir

	analysis, err := Run(context.Background(), quadratic, cfg)
	require.NoError(t, err)

	loaded, err := LoadAnalysis(filepath.Join(dir, "test", StateFile))
	require.NoError(t, err)
	require.Len(t, loaded.Trials, 5)

	want, err := analysis.BestTrial()
	require.NoError(t, err)

	got, err := loaded.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}
