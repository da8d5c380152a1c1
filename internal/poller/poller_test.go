package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

// scriptedSource returns the queued snapshots for each URL in order and
// repeats the last one.
type scriptedSource struct {
	mu     sync.Mutex
	script map[string][]Snapshot
	errs   map[string]error
	reads  map[string]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		script: map[string][]Snapshot{},
		errs:   map[string]error{},
		reads:  map[string]int{},
	}
}

func (s *scriptedSource) Snapshot(_ context.Context, fileURL string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[fileURL]++
	if err := s.errs[fileURL]; err != nil {
		return Snapshot{}, err
	}
	queue := s.script[fileURL]
	if len(queue) == 0 {
		return Snapshot{Status: model.StatusPending, Stage: model.StagePending}, nil
	}
	snap := queue[0]
	if len(queue) > 1 {
		s.script[fileURL] = queue[1:]
	}
	return snap, nil
}

func (s *scriptedSource) readCount(fileURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[fileURL]
}

func TestPoll_ReadsOnlyNonTerminalFiles(t *testing.T) {
	ctx := context.Background()
	src := newScriptedSource()
	src.script["a"] = []Snapshot{
		{Status: model.StatusJobSubmitted, Stage: model.StageSubmitted, Progress: 10},
		{Status: model.StatusConverted, Stage: model.StageDone, Progress: 100},
	}
	src.script["b"] = []Snapshot{{Status: model.StatusServiceError, Stage: model.StageError}}

	p := New(src)
	p.Track("a")
	p.Track("b")
	p.Track("a")

	p.Poll(ctx)
	entries := p.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.StageSubmitted, entries[0].Stage)
	assert.Equal(t, 10, entries[0].Progress)
	assert.Equal(t, model.StageError, entries[1].Stage)
	assert.False(t, p.Settled())

	p.Poll(ctx)
	assert.True(t, p.Settled())

	p.Poll(ctx)
	assert.Equal(t, 2, src.readCount("a"))
	assert.Equal(t, 1, src.readCount("b"), "terminal entries are not read again")
}

func TestPoll_ReadErrorKeepsLastState(t *testing.T) {
	ctx := context.Background()
	src := newScriptedSource()
	src.script["a"] = []Snapshot{{Status: model.StatusJobSubmitted, Stage: model.StageSubmitted, Progress: 30}}

	var updates []Entry
	p := New(src, WithCallback(func(e Entry) { updates = append(updates, e) }))
	p.Track("a")

	p.Poll(ctx)
	src.errs["a"] = errors.New("connection refused")
	p.Poll(ctx)
	p.Poll(ctx)

	entries := p.Entries()
	assert.Equal(t, model.StageSubmitted, entries[0].Stage)
	assert.Equal(t, 30, entries[0].Progress)
	assert.EqualError(t, entries[0].Err, "connection refused")
	assert.Len(t, updates, 2, "repeated identical failures emit once")

	delete(src.errs, "a")
	p.Poll(ctx)
	assert.NoError(t, p.Entries()[0].Err)
}

func TestRun_ExitsWhenSettled(t *testing.T) {
	src := newScriptedSource()
	src.script["a"] = []Snapshot{
		{Status: model.StatusJobSubmitted, Stage: model.StageSubmitted},
		{Status: model.StatusConverted, Stage: model.StageDone, Progress: 100},
	}

	p := New(src, WithInterval(5*time.Millisecond), WithExitWhenSettled())
	p.Track("a")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.True(t, p.Settled())

	var got []model.Stage
	for len(p.Updates()) > 0 {
		got = append(got, (<-p.Updates()).Stage)
	}
	assert.Equal(t, []model.Stage{model.StageSubmitted, model.StageDone}, got)
}

func TestRun_UnknownStageSettles(t *testing.T) {
	src := newScriptedSource()
	src.script["a"] = []Snapshot{
		{Status: model.StatusJobSubmitted, Stage: model.StageSubmitted},
		{Status: "Held for review", Stage: model.StageUnknown},
	}
	src.script["b"] = []Snapshot{{Status: model.StatusConverted, Stage: model.StageDone, Progress: 100}}

	p := New(src, WithInterval(5*time.Millisecond), WithExitWhenSettled())
	p.Track("a")
	p.Track("b")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.True(t, p.Settled())
	assert.Equal(t, model.StageUnknown, p.Entries()[0].Stage)

	reads := src.readCount("a")
	p.Poll(context.Background())
	assert.Equal(t, reads, src.readCount("a"), "unknown entries are not read again")
}

func TestRun_StopAndCancel(t *testing.T) {
	p := New(newScriptedSource(), WithInterval(time.Millisecond))
	p.Track("a")

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, p.Running, time.Second, time.Millisecond)
	assert.ErrorIs(t, p.Run(context.Background()), ErrRunning)

	p.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	p.Stop()
}
