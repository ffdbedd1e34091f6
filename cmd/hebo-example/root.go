package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hotune"
)

var (
	smokeTest      bool   // Finish quickly for testing
	logLevel       string // Log verbosity level
	seed           int64  // Seed of the searcher, for reproducibility
	numSuggestions int    // Batch size of the searcher and the concurrency limiter
	spaceFile      string // Optional design space file replacing the built-in space
	localDir       string // Directory receiving the experiment state
)

// previouslyRunParams are configurations evaluated before this run.
// Activation is given explicitly; steps is filled from the space.
var previouslyRunParams = []hotune.Config{
	{"width": 10.0, "height": 0.0, "activation": "relu"},
	{"width": 15.0, "height": -20.0, "activation": "tanh"},
}

// knownRewards are the mean_loss values of previouslyRunParams.
var knownRewards = []float64{-189, -1144}

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hebo-example",
	Short: "Tune a toy objective with warm-started Bayesian search and ASHA",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		space := defaultSpace()
		if spaceFile != "" {
			if space, err = hotune.LoadSpace(spaceFile); err != nil {
				return err
			}
		}

		cfg, err := newRunConfig(space, smokeTest, numSuggestions, seed)
		if err != nil {
			return err
		}
		cfg.LocalDir = localDir

		analysis, err := hotune.Run(cmd.Context(), easyObjective, cfg)
		if err != nil {
			return err
		}

		best, err := analysis.BestConfig()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Best hyperparameters found were: ", best)

		return nil
	},
}

// defaultSpace is the search space of the example. Its keys must match the
// keys the objective reads.
func defaultSpace() hotune.Space {
	return hotune.Space{
		"steps":      hotune.Const(100),
		"width":      hotune.Uniform(0, 20),
		"height":     hotune.Uniform(-100, 100),
		"activation": hotune.Choice("relu", "tanh"),
	}
}

// numSamples is the trial budget.
func numSamples(smoke bool) int {
	if smoke {
		return 10
	}

	return 50
}

// newRunConfig wires the warm-started searcher, the batching limiter and the
// scheduler into an experiment minimizing mean_loss.
func newRunConfig(space hotune.Space, smoke bool, nSuggestions int, seed int64) (hotune.RunConfig, error) {
	searchCfg := hotune.DefaultSearchConfig()
	searchCfg.PointsToEvaluate = previouslyRunParams
	searchCfg.EvaluatedRewards = knownRewards
	searchCfg.Seed = seed
	searchCfg.NumSuggestions = nSuggestions

	algo, err := hotune.NewBayesSearch(searchCfg)
	if err != nil {
		return hotune.RunConfig{}, err
	}

	cfg := hotune.DefaultRunConfig()
	cfg.Name = "hebo_exp_with_warmstart"
	cfg.Metric = "mean_loss"
	cfg.Mode = hotune.ModeMin
	cfg.NumSamples = numSamples(smoke)
	cfg.Space = space
	cfg.Searcher = hotune.NewConcurrencyLimiter(algo, nSuggestions, true)
	cfg.Scheduler = hotune.NewAsyncHyperBandScheduler()

	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&smokeTest, "smoke-test", false, "Finish quickly for testing")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.Flags().Int64Var(&seed, "seed", 123, "Seed of the search algorithm, for reproducibility")
	rootCmd.Flags().IntVar(&numSuggestions, "n-suggestions", 8, "Suggestions per batch, also the concurrency cap")
	rootCmd.Flags().StringVar(&spaceFile, "space", "", "Design space YAML file replacing the built-in space")
	rootCmd.Flags().StringVar(&localDir, "local-dir", "", "Directory receiving the experiment state")
}
