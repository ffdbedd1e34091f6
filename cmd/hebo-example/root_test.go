package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/hotune"
)

func TestNumSamples(t *testing.T) {
	assert.Equal(t, 10, numSamples(true))
	assert.Equal(t, 50, numSamples(false))
}

func TestWarmStartSeed(t *testing.T) {
	require.Equal(t, len(previouslyRunParams), len(knownRewards))

	space := defaultSpace()
	for _, p := range previouslyRunParams {
		cfg, err := space.Complete(p)
		require.NoError(t, err)
		assert.Equal(t, 100, cfg["steps"])
	}
}

func TestNewRunConfig(t *testing.T) {
	cfg, err := newRunConfig(defaultSpace(), true, 8, 123)
	require.NoError(t, err)

	assert.Equal(t, "hebo_exp_with_warmstart", cfg.Name)
	assert.Equal(t, "mean_loss", cfg.Metric)
	assert.Equal(t, hotune.ModeMin, cfg.Mode)
	assert.Equal(t, 10, cfg.NumSamples)
	assert.IsType(t, &hotune.ConcurrencyLimiter{}, cfg.Searcher)
	assert.IsType(t, &hotune.AsyncHyperBandScheduler{}, cfg.Scheduler)

	cfg, err = newRunConfig(defaultSpace(), false, 8, 123)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.NumSamples)
}

func TestSmokeRun(t *testing.T) {
	withoutDelay(t)

	space := defaultSpace()
	space["steps"] = hotune.Const(10)

	cfg, err := newRunConfig(space, true, 4, 1)
	require.NoError(t, err)

	analysis, err := hotune.Run(context.Background(), easyObjective, cfg)
	require.NoError(t, err)
	require.Len(t, analysis.Trials, 10)

	best, err := analysis.BestConfig()
	require.NoError(t, err)
	assert.NoError(t, space.Validate(best))
}

const smokeSpace = `
- {name: width, type: num, lb: 0, ub: 20}
- {name: height, type: num, lb: -100, ub: 100}
- {name: activation, type: cat, categories: [relu, tanh]}
- {name: steps, type: const, value: 3}
`

func TestRootCommand(t *testing.T) {
	withoutDelay(t)

	dir := t.TempDir()
	spacePath := filepath.Join(dir, "space.yaml")
	require.NoError(t, os.WriteFile(spacePath, []byte(smokeSpace), 0o644))

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--smoke-test", "--log-level", "error", "--space", spacePath, "--local-dir", dir})

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "Best hyperparameters found were: ")
	assert.FileExists(t, filepath.Join(dir, "hebo_exp_with_warmstart", hotune.StateFile))
}
