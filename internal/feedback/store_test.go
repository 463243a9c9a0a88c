package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock) {
	t.Helper()
	clk := &clock{t: t0}
	opts = append([]Option{WithClock(clk.now), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewStore(24*time.Hour, opts...), clk
}

func TestEfficacy_PriorWithoutEvidence(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, Prior, s.Efficacy("repeat-edit"))
	assert.Equal(t, 0, s.Count("repeat-edit"))
}

func TestEfficacy_WorkedRaisesAndFailedLowers(t *testing.T) {
	up, _ := newTestStore(t)
	down, _ := newTestStore(t)

	up.Record("p", "iv-1", "", true, "")
	down.Record("p", "iv-1", "", false, "")

	assert.Greater(t, up.Efficacy("p"), Prior)
	assert.Less(t, down.Efficacy("p"), Prior)
	assert.InDelta(t, 0.75, up.Efficacy("p"), 1e-9)
	assert.InDelta(t, 0.25, down.Efficacy("p"), 1e-9)
}

func TestEfficacy_OldOutcomesWeighLess(t *testing.T) {
	s, clk := newTestStore(t)

	s.Record("p", "iv-1", "", false, "")
	clk.t = clk.t.Add(24 * time.Hour)
	s.Record("p", "iv-2", "", true, "")

	// failure weight 0.5, success weight 1: (0.5 + 1) / (1 + 1.5)
	assert.InDelta(t, 0.6, s.Efficacy("p"), 1e-9)

	// Far in the future both outcomes fade and the score returns to the prior.
	clk.t = clk.t.Add(365 * 24 * time.Hour)
	assert.InDelta(t, Prior, s.Efficacy("p"), 1e-6)
}

func TestHistory_MostRecentFirst(t *testing.T) {
	s, clk := newTestStore(t)
	s.Record("p", "iv-1", "", true, "first")
	clk.t = clk.t.Add(time.Minute)
	latest := s.Record("p", "iv-2", "alert-2", false, "second")
	s.Record("other", "iv-3", "", true, "")

	var got []Outcome
	for o := range s.History("p") {
		got = append(got, o)
	}
	require.Len(t, got, 2)
	assert.Equal(t, latest, got[0])
	assert.Equal(t, "first", got[1].Notes)

	last, ok := s.Latest("p")
	require.True(t, ok)
	assert.Equal(t, "second", last.Notes)

	found, ok := s.FindIntervention("p", "iv-1")
	require.True(t, ok)
	assert.Equal(t, "first", found.Notes)
	assert.Equal(t, 3, s.Total())
}

func TestHistory_IsSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	s.Record("p", "iv-1", "", true, "")

	seq := s.History("p")
	s.Record("p", "iv-2", "", true, "")

	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestRestore_SortsAndSkipsPersistence(t *testing.T) {
	saver := &recordingSaver{}
	wb := NewWriteBehind(DefaultWriteBehindConfig(), zaptest.NewLogger(t))
	s, _ := newTestStore(t, WithPersistence(wb, saver))

	s.Restore([]Outcome{
		{ID: "b", PatternID: "p", InterventionID: "iv-b", Worked: true, RecordedAt: t0.Add(-time.Hour)},
		{ID: "a", PatternID: "p", InterventionID: "iv-a", Worked: false, RecordedAt: t0.Add(-2 * time.Hour)},
	})

	assert.Equal(t, 2, s.Count("p"))
	last, _ := s.Latest("p")
	assert.Equal(t, "b", last.ID)
	assert.Equal(t, 0, wb.Pending())
}

func TestRecord_EnqueuesWrite(t *testing.T) {
	saver := &recordingSaver{}
	wb := NewWriteBehind(DefaultWriteBehindConfig(), zaptest.NewLogger(t))
	s, _ := newTestStore(t, WithPersistence(wb, saver))

	o := s.Record("p", "iv-1", "", true, "")
	require.Equal(t, 1, wb.Pending())

	wb.Flush(context.Background())
	assert.Equal(t, 0, wb.Pending())
	assert.Equal(t, []Outcome{o}, saver.saved())
}

type recordingSaver struct {
	mu  sync.Mutex
	out []Outcome
}

func (r *recordingSaver) SaveOutcome(_ context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, o)
	return nil
}

func (r *recordingSaver) saved() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.out...)
}
