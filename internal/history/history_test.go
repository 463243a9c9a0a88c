package history

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seqs(it func(func(Event) bool)) []uint64 {
	var out []uint64
	for e := range it {
		out = append(out, e.Seq)
	}
	return out
}

func TestAppend_AssignsMonotonicSequence(t *testing.T) {
	h := New(Config{MaxEvents: 8})

	a := h.Append(Event{Tool: "read"})
	b := h.Append(Event{Tool: "edit"})

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.False(t, a.Time.IsZero(), "zero timestamp should be filled by the clock")
}

func TestAppend_KeepsTimeOrder(t *testing.T) {
	clock := newFakeClock()
	h := New(Config{MaxEvents: 8}, WithClock(clock.Now))

	first := h.Append(Event{Tool: "a", Time: clock.Now()})
	second := h.Append(Event{Tool: "b", Time: clock.Now().Add(-time.Minute)})

	assert.Equal(t, first.Time, second.Time, "out-of-order timestamp should be raised to the previous one")
}

func TestAppend_EvictsBeyondCapacityWithoutError(t *testing.T) {
	h := New(Config{MaxEvents: 3})

	for i := 0; i < 10; i++ {
		h.Append(Event{Tool: "edit"})
	}

	got := seqs(h.Window(FromSeq(0)))
	assert.Equal(t, []uint64{8, 9, 10}, got)

	stats := h.Stats()
	assert.Equal(t, 3, stats.Len)
	assert.Equal(t, uint64(7), stats.Evicted)
	assert.Equal(t, uint64(10), stats.LastSeq)

	_, err := h.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppend_EvictsByAge(t *testing.T) {
	clock := newFakeClock()
	h := New(Config{MaxEvents: 100, MaxAge: 10 * time.Minute}, WithClock(clock.Now))

	h.Append(Event{Tool: "old"})
	clock.Advance(5 * time.Minute)
	h.Append(Event{Tool: "mid"})
	clock.Advance(6 * time.Minute)

	// Nothing appended since: the first event aged out but is still
	// physically present; reads must not return it.
	got := seqs(h.Latest(10))
	assert.Equal(t, []uint64{2}, got)

	h.Append(Event{Tool: "new"})
	assert.Equal(t, 2, h.Stats().Len)
}

func TestWindow_FromSeqAndWithin(t *testing.T) {
	clock := newFakeClock()
	h := New(Config{MaxEvents: 10}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		h.Append(Event{Tool: "edit"})
		clock.Advance(time.Minute)
	}

	assert.Equal(t, []uint64{3, 4, 5}, seqs(h.Window(FromSeq(3))))
	// Now is 5 minutes after the first event; the last two are < 2m30s old.
	assert.Equal(t, []uint64{4, 5}, seqs(h.Window(Within(150*time.Second))))
}

func TestWindow_IsRestartableSnapshot(t *testing.T) {
	h := New(Config{MaxEvents: 10})
	h.Append(Event{Tool: "a"})
	h.Append(Event{Tool: "b"})

	w := h.Window(FromSeq(0))
	h.Append(Event{Tool: "c"})

	first := seqs(w)
	second := seqs(w)
	assert.Equal(t, []uint64{1, 2}, first)
	assert.Equal(t, first, second)
}

func TestLatest_ReturnsNewestOldestFirst(t *testing.T) {
	h := New(Config{MaxEvents: 10})
	for i := 0; i < 6; i++ {
		h.Append(Event{Tool: "x"})
	}

	assert.Equal(t, []uint64{4, 5, 6}, seqs(h.Latest(3)))
	assert.Len(t, slices.Collect(h.Latest(100)), 6)
	assert.Empty(t, slices.Collect(h.Latest(0)))
}

func TestReturnedEventsDoNotAliasStorage(t *testing.T) {
	h := New(Config{MaxEvents: 10})
	args := map[string]any{"file": "main.go"}
	h.Append(Event{Tool: "edit", Args: args})

	args["file"] = "mutated-by-caller.go"
	for e := range h.Latest(1) {
		e.Args["file"] = "mutated-by-reader.go"
	}

	got, err := h.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "main.go", got.Args["file"])
}

func TestReturnedEventsDoNotAliasNestedArgs(t *testing.T) {
	h := New(Config{MaxEvents: 10})
	h.Append(Event{Tool: "edit", Args: map[string]any{
		"opts":  map[string]any{"path": "a.py"},
		"files": []any{"a.py", map[string]any{"name": "b.py"}},
	}})

	for e := range h.Latest(1) {
		e.Args["opts"].(map[string]any)["path"] = "MUTATED"
		files := e.Args["files"].([]any)
		files[0] = "MUTATED"
		files[1].(map[string]any)["name"] = "MUTATED"
	}

	got := slices.Collect(h.Latest(1))
	require.Len(t, got, 1)
	assert.Equal(t, "a.py", got[0].Args["opts"].(map[string]any)["path"])
	files := got[0].Args["files"].([]any)
	assert.Equal(t, "a.py", files[0])
	assert.Equal(t, "b.py", files[1].(map[string]any)["name"])
}

func TestTag_RejectsAgedOutEvent(t *testing.T) {
	clock := newFakeClock()
	h := New(Config{MaxEvents: 10, MaxAge: 10 * time.Minute}, WithClock(clock.Now))
	h.Append(Event{Tool: "test"})

	clock.Advance(11 * time.Minute)

	_, err := h.Tag(1, "success")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTag_SetsOutcomeOnce(t *testing.T) {
	h := New(Config{MaxEvents: 10})
	h.Append(Event{Tool: "test"})
	before := slices.Collect(h.Latest(1))

	tagged, err := h.Tag(1, "success")
	require.NoError(t, err)
	assert.Equal(t, "success", tagged.Outcome)
	assert.Empty(t, before[0].Outcome, "copies handed out earlier must not change")

	_, err = h.Tag(1, "failure")
	assert.ErrorIs(t, err, ErrAlreadyTagged)

	_, err = h.Tag(99, "success")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentReadsDuringAppends(t *testing.T) {
	h := New(Config{MaxEvents: 64})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			h.Append(Event{Tool: "edit"})
		}
	}()

	for i := 0; i < 100; i++ {
		var prev uint64
		for e := range h.Window(FromSeq(0)) {
			require.Greater(t, e.Seq, prev, "snapshot must be strictly ordered")
			prev = e.Seq
		}
	}
	wg.Wait()
}
