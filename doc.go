// Package hotune runs hyperparameter tuning experiments: a searcher suggests
// configurations, trials run concurrently, a scheduler stops unpromising
// trials early, and the best configuration is returned.
//
// # Components
//
//   - Space: the search space. Uniform, LogUniform and RandInt ranges
//     (the generic ParameterRange), Choice and Const. Spaces can be loaded
//     from YAML design space files with LoadSpace.
//   - BayesSearch: Gaussian Process regression with acquisition functions
//     (UCB, ProbabilityOfImprovement, ExpectedImprovement, ThompsonSampling).
//     Supports warm starts from previously evaluated points and batched
//     suggestions. RandomSearch is the default searcher.
//   - ConcurrencyLimiter: caps live trials of a searcher, optionally in
//     batches.
//   - AsyncHyperBandScheduler: asynchronous successive halving.
//     FIFOScheduler runs every trial to completion.
//   - Run: the driver. It returns an Analysis with the best trial.
//
// # Example
//
//	search, err := hotune.NewBayesSearch(hotune.SearchConfig{
//	    PointsToEvaluate: []hotune.Config{{"width": 10, "height": 0}},
//	    EvaluatedRewards: []float64{-189},
//	    NumSuggestions:   8,
//	    Seed:             123,
//	})
//	if err != nil {
//	    return err
//	}
//
//	analysis, err := hotune.Run(ctx, objective, hotune.RunConfig{
//	    Name:       "bayes_exp",
//	    Metric:     "mean_loss",
//	    Mode:       hotune.ModeMin,
//	    NumSamples: 50,
//	    Searcher:   hotune.NewConcurrencyLimiter(search, 8, true),
//	    Scheduler:  hotune.NewAsyncHyperBandScheduler(),
//	    Space: hotune.Space{
//	        "width":  hotune.Uniform(0, 20),
//	        "height": hotune.Uniform(-100, 100),
//	        "steps":  hotune.Const(100),
//	    },
//	})
//
// # Thread Safety
//
// Searchers and schedulers of this package are safe for concurrent use. Run
// calls them from a single event loop goroutine; trainables run on their own
// goroutines and talk to the loop through their Reporter.
package hotune
