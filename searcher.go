package hotune

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Searcher suggests configurations and learns from completed trials.
//
// The driver calls a Searcher from a single goroutine; implementations in
// this package are additionally safe for concurrent use.
type Searcher interface {
	// SetSearchProperties passes the driver's metric, mode and space. A
	// searcher constructed with its own values keeps them.
	SetSearchProperties(metric string, mode Mode, space Space) error

	// Suggest returns the configuration for a new trial, or false when no
	// suggestion is available right now.
	Suggest(trialID string) (Config, bool)

	// OnTrialResult is called for every intermediate result.
	OnTrialResult(trialID string, result Result)

	// OnTrialComplete is called once per suggested trial. result is the last
	// result, nil when the trial reported nothing.
	OnTrialComplete(trialID string, result *Result, failed bool)
}

//////
// Bayesian search.
//////

// observation is one completed configuration known to the model.
type observation struct {
	x    []float64
	loss float64
}

// BayesSearch is a Gaussian Process based searcher. It supports warm starts
// from previously evaluated points and batched proposals: with
// NumSuggestions > 1 every proposal round returns a batch built from random
// candidates and mutations of the best observed points, kept diverse by
// fantasizing the predicted loss of each selected point.
type BayesSearch struct {
	mu sync.Mutex

	cfg    SearchConfig
	metric string
	mode   Mode
	space  Space

	rng *rand.Rand
	gp  *gaussianProcess

	observed []observation
	pending  []Config
	live     map[string][]float64
	ready    bool
}

// DefaultSearchConfig returns a default configuration (UCB, batches of 1).
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		NumSuggestions:  1,
		InitialSamples:  5,
		NumCandidates:   200,
		MutationRate:    0.1,
		KernelWidth:     0.25,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			Beta:      2.0,
			Xi:        0.01,
			BestSoFar: math.MaxFloat64,
		},
	}
}

// NewBayesSearch creates a searcher. Zero-valued numeric fields of cfg take
// their DefaultSearchConfig values.
func NewBayesSearch(cfg SearchConfig) (*BayesSearch, error) {
	def := DefaultSearchConfig()

	if cfg.NumSuggestions <= 0 {
		cfg.NumSuggestions = def.NumSuggestions
	}

	if cfg.InitialSamples <= 0 {
		cfg.InitialSamples = def.InitialSamples
	}

	if cfg.NumCandidates <= 0 {
		cfg.NumCandidates = def.NumCandidates
	}

	if cfg.MutationRate <= 0 {
		cfg.MutationRate = def.MutationRate
	}

	if cfg.KernelWidth <= 0 {
		cfg.KernelWidth = def.KernelWidth
	}

	if cfg.AcquisitionFunc == nil {
		cfg.AcquisitionFunc = def.AcquisitionFunc
		cfg.AcqParams = def.AcqParams
	}

	if len(cfg.EvaluatedRewards) > 0 && len(cfg.EvaluatedRewards) != len(cfg.PointsToEvaluate) {
		return nil, fmt.Errorf("%w: %d points, %d rewards",
			ErrRewardsLength, len(cfg.PointsToEvaluate), len(cfg.EvaluatedRewards))
	}

	if cfg.Mode != "" {
		if err := cfg.Mode.Validate(); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.AcqParams.RandomState == nil {
		cfg.AcqParams.RandomState = rand.New(rand.NewSource(rng.Int63()))
	}

	s := &BayesSearch{
		cfg:    cfg,
		metric: cfg.Metric,
		mode:   cfg.Mode,
		space:  cfg.Space,
		rng:    rng,
		gp:     newGaussianProcess(cfg.KernelWidth, 1e-6),
		live:   map[string][]float64{},
	}

	if s.space != nil && s.metric != "" && s.mode != "" {
		if err := s.setup(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetSearchProperties implements Searcher.
func (s *BayesSearch) SetSearchProperties(metric string, mode Mode, space Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	if s.metric == "" {
		s.metric = metric
	}

	if s.mode == "" {
		s.mode = mode
	}

	if s.space == nil {
		s.space = space
	}

	return s.setup()
}

// setup validates the properties and loads the warm-start points.
func (s *BayesSearch) setup() error {
	if s.metric == "" {
		return fmt.Errorf("searcher: metric not set")
	}

	if err := s.mode.Validate(); err != nil {
		return fmt.Errorf("searcher: %w", err)
	}

	if err := s.space.Check(); err != nil {
		return fmt.Errorf("searcher: %w", err)
	}

	for i, p := range s.cfg.PointsToEvaluate {
		cfg, err := s.space.Complete(p)
		if err != nil {
			return fmt.Errorf("point to evaluate %d: %w", i, err)
		}

		if len(s.cfg.EvaluatedRewards) == 0 {
			s.pending = append(s.pending, cfg)

			continue
		}

		x, err := s.space.Encode(cfg)
		if err != nil {
			return fmt.Errorf("point to evaluate %d: %w", i, err)
		}

		s.observe(x, s.mode.loss(s.cfg.EvaluatedRewards[i]))
	}

	s.ready = true

	return nil
}

func (s *BayesSearch) observe(x []float64, loss float64) {
	s.observed = append(s.observed, observation{x: x, loss: loss})
	s.gp.Update(x, loss)
}

// Suggest implements Searcher.
func (s *BayesSearch) Suggest(trialID string) (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, false
	}

	if len(s.pending) == 0 {
		s.pending = s.propose(s.cfg.NumSuggestions)
	}

	cfg := s.pending[0]
	s.pending = s.pending[1:]

	x, err := s.space.Encode(cfg)
	if err != nil {
		return nil, false
	}

	s.live[trialID] = x

	return cfg.Clone(), true
}

// OnTrialResult implements Searcher. Only final results are modelled.
func (s *BayesSearch) OnTrialResult(string, Result) {}

// OnTrialComplete implements Searcher. Failed trials and trials without the
// metric are not fed to the model.
func (s *BayesSearch) OnTrialComplete(trialID string, result *Result, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x, ok := s.live[trialID]
	if !ok {
		return
	}

	delete(s.live, trialID)

	if failed || result == nil {
		return
	}

	v, ok := result.Value(s.metric)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}

	s.observe(x, s.mode.loss(v))
}

// NumObservations returns how many configurations the model has seen,
// warm-start rewards included.
func (s *BayesSearch) NumObservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.observed)
}

// propose returns n new configurations. Until InitialSamples observations
// exist they are random.
func (s *BayesSearch) propose(n int) []Config {
	batch := make([]Config, 0, n)

	if len(s.observed) < s.cfg.InitialSamples {
		for i := 0; i < n; i++ {
			batch = append(batch, s.space.Sample(s.rng))
		}

		return batch
	}

	candidates := s.candidates(n)
	model := s.gp.clone()
	params := s.cfg.AcqParams
	params.BestSoFar = s.bestLoss()

	taken := make([]bool, len(candidates))

	for len(batch) < n {
		best, bestScore := -1, math.MaxFloat64

		for i, x := range candidates {
			if taken[i] {
				continue
			}

			mean, variance := model.Predict(x)
			if score := s.cfg.AcquisitionFunc(mean, variance, params); score < bestScore {
				best, bestScore = i, score
			}
		}

		if best < 0 {
			batch = append(batch, s.space.Sample(s.rng))

			continue
		}

		taken[best] = true
		batch = append(batch, s.space.Decode(candidates[best]))

		// Fantasize the predicted loss so the rest of the batch moves away.
		if len(batch) < n {
			mean, _ := model.Predict(candidates[best])
			model.Update(candidates[best], mean)
		}
	}

	return batch
}

// candidates returns random points and, for batches, mutations of the best
// observed points. All points are snapped to valid configurations.
func (s *BayesSearch) candidates(n int) [][]float64 {
	out := make([][]float64, 0, 2*s.cfg.NumCandidates)
	seen := make(map[string]struct{}, 2*s.cfg.NumCandidates)

	add := func(cfg Config) {
		x, err := s.space.Encode(cfg)
		if err != nil {
			return
		}

		key := fmt.Sprint(x)
		if _, dup := seen[key]; dup {
			return
		}

		seen[key] = struct{}{}
		out = append(out, x)
	}

	for i := 0; i < s.cfg.NumCandidates; i++ {
		add(s.space.Sample(s.rng))
	}

	if n <= 1 {
		return out
	}

	parents := make([]observation, len(s.observed))
	copy(parents, s.observed)
	sort.SliceStable(parents, func(i, j int) bool { return parents[i].loss < parents[j].loss })

	if len(parents) > n {
		parents = parents[:n]
	}

	for i := 0; i < s.cfg.NumCandidates; i++ {
		parent := parents[i%len(parents)].x
		child := make([]float64, len(parent))

		for d := range parent {
			child[d] = clamp(parent[d]+s.rng.NormFloat64()*s.cfg.MutationRate, 0, 1)
		}

		add(s.space.Decode(child))
	}

	return out
}

func (s *BayesSearch) bestLoss() float64 {
	best := math.MaxFloat64
	for _, o := range s.observed {
		best = math.Min(best, o.loss)
	}

	return best
}

//////
// Random search.
//////

// RandomSearch samples every configuration independently. It is the
// driver's default searcher.
type RandomSearch struct {
	mu    sync.Mutex
	rng   *rand.Rand
	space Space
}

// NewRandomSearch returns a seeded random searcher.
func NewRandomSearch(seed int64) *RandomSearch {
	return &RandomSearch{rng: rand.New(rand.NewSource(seed))}
}

// SetSearchProperties implements Searcher.
func (r *RandomSearch) SetSearchProperties(_ string, _ Mode, space Space) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.space == nil {
		r.space = space
	}

	return r.space.Check()
}

// Suggest implements Searcher.
func (r *RandomSearch) Suggest(string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.space == nil {
		return nil, false
	}

	return r.space.Sample(r.rng), true
}

// OnTrialResult implements Searcher.
func (r *RandomSearch) OnTrialResult(string, Result) {}

// OnTrialComplete implements Searcher.
func (r *RandomSearch) OnTrialComplete(string, *Result, bool) {}
