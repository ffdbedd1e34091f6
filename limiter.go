package hotune

import "sync"

// completion is a trial completion held back by a batching limiter.
type completion struct {
	trialID string
	result  *Result
	failed  bool
}

// ConcurrencyLimiter caps the number of live trials of a wrapped Searcher.
//
// In batch mode the limiter hands out at most MaxConcurrent suggestions,
// then waits until every trial of that batch finished before forwarding all
// of their completions to the wrapped searcher at once and opening the next
// batch. This suits searchers that propose in batches.
type ConcurrencyLimiter struct {
	mu sync.Mutex

	searcher      Searcher
	maxConcurrent int
	batch         bool

	live   map[string]struct{}
	cached []completion
}

// NewConcurrencyLimiter wraps searcher. maxConcurrent below 1 is treated as 1.
func NewConcurrencyLimiter(searcher Searcher, maxConcurrent int, batch bool) *ConcurrencyLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &ConcurrencyLimiter{
		searcher:      searcher,
		maxConcurrent: maxConcurrent,
		batch:         batch,
		live:          map[string]struct{}{},
	}
}

// SetSearchProperties implements Searcher.
func (l *ConcurrencyLimiter) SetSearchProperties(metric string, mode Mode, space Space) error {
	return l.searcher.SetSearchProperties(metric, mode, space)
}

// Suggest implements Searcher.
func (l *ConcurrencyLimiter) Suggest(trialID string) (Config, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.live) >= l.maxConcurrent {
		return nil, false
	}

	// A batch that started finishing is closed.
	if l.batch && len(l.cached) > 0 {
		return nil, false
	}

	cfg, ok := l.searcher.Suggest(trialID)
	if ok {
		l.live[trialID] = struct{}{}
	}

	return cfg, ok
}

// OnTrialResult implements Searcher.
func (l *ConcurrencyLimiter) OnTrialResult(trialID string, result Result) {
	l.mu.Lock()
	_, ok := l.live[trialID]
	l.mu.Unlock()

	if ok {
		l.searcher.OnTrialResult(trialID, result)
	}
}

// OnTrialComplete implements Searcher.
func (l *ConcurrencyLimiter) OnTrialComplete(trialID string, result *Result, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.live[trialID]; !ok {
		return
	}

	if !l.batch {
		delete(l.live, trialID)
		l.searcher.OnTrialComplete(trialID, result, failed)

		return
	}

	l.cached = append(l.cached, completion{trialID: trialID, result: result, failed: failed})
	if len(l.cached) < len(l.live) {
		return
	}

	for _, c := range l.cached {
		delete(l.live, c.trialID)
		l.searcher.OnTrialComplete(c.trialID, c.result, c.failed)
	}

	l.cached = nil
}

// Live returns the number of suggested trials not yet released.
func (l *ConcurrencyLimiter) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.live)
}
