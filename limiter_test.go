package hotune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSearcher suggests {"x": 0} until exhausted and records
// completions.
type recordingSearcher struct {
	remaining int
	results   []string
	completed []string
}

func (r *recordingSearcher) SetSearchProperties(string, Mode, Space) error { return nil }

func (r *recordingSearcher) Suggest(string) (Config, bool) {
	if r.remaining == 0 {
		return nil, false
	}

	r.remaining--

	return Config{"x": 0.0}, true
}

func (r *recordingSearcher) OnTrialResult(id string, _ Result) {
	r.results = append(r.results, id)
}

func (r *recordingSearcher) OnTrialComplete(id string, _ *Result, _ bool) {
	r.completed = append(r.completed, id)
}

func TestConcurrencyLimiterCapsLiveTrials(t *testing.T) {
	inner := &recordingSearcher{remaining: 10}
	l := NewConcurrencyLimiter(inner, 2, false)

	_, ok := l.Suggest("a")
	require.True(t, ok)

	_, ok = l.Suggest("b")
	require.True(t, ok)

	_, ok = l.Suggest("c")
	assert.False(t, ok)
	assert.Equal(t, 2, l.Live())

	// Without batching a completion is forwarded and frees a slot at once.
	l.OnTrialComplete("a", nil, false)
	assert.Equal(t, []string{"a"}, inner.completed)

	_, ok = l.Suggest("c")
	assert.True(t, ok)
}

func TestConcurrencyLimiterBatch(t *testing.T) {
	inner := &recordingSearcher{remaining: 10}
	l := NewConcurrencyLimiter(inner, 2, true)

	for _, id := range []string{"a", "b"} {
		_, ok := l.Suggest(id)
		require.True(t, ok)
	}

	l.OnTrialResult("a", Result{})
	assert.Equal(t, []string{"a"}, inner.results)

	l.OnTrialComplete("a", nil, false)

	// The batch is held back until every member finished.
	assert.Empty(t, inner.completed)

	_, ok := l.Suggest("c")
	assert.False(t, ok)

	l.OnTrialComplete("b", nil, true)
	assert.Equal(t, []string{"a", "b"}, inner.completed)
	assert.Equal(t, 0, l.Live())

	_, ok = l.Suggest("c")
	assert.True(t, ok)
}

func TestConcurrencyLimiterPartialBatch(t *testing.T) {
	inner := &recordingSearcher{remaining: 1}
	l := NewConcurrencyLimiter(inner, 4, true)

	_, ok := l.Suggest("a")
	require.True(t, ok)

	// The wrapped searcher has nothing more; the batch has one member.
	_, ok = l.Suggest("b")
	require.False(t, ok)
	assert.Equal(t, 1, l.Live())

	l.OnTrialComplete("a", nil, false)
	assert.Equal(t, []string{"a"}, inner.completed)
}

func TestConcurrencyLimiterIgnoresUnknownTrials(t *testing.T) {
	inner := &recordingSearcher{remaining: 1}
	l := NewConcurrencyLimiter(inner, 0, true)

	l.OnTrialResult("ghost", Result{})
	l.OnTrialComplete("ghost", nil, false)

	assert.Empty(t, inner.results)
	assert.Empty(t, inner.completed)

	// maxConcurrent below 1 is raised to 1.
	_, ok := l.Suggest("a")
	assert.True(t, ok)
}
