package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roachy-battlesync/internal/api"
	"roachy-battlesync/internal/domain"
)

type scriptedFetcher struct {
	mu     sync.Mutex
	script []func() (*api.RawMatch, error)
	calls  int
	seen   []string
}

func (f *scriptedFetcher) GetMatch(_ context.Context, matchID, playerID string) (*api.RawMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, matchID+"/"+playerID)
	step := f.script[len(f.script)-1]
	if f.calls < len(f.script) {
		step = f.script[f.calls]
	}
	f.calls++
	return step()
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func active(turn int) func() (*api.RawMatch, error) {
	return func() (*api.RawMatch, error) {
		return &api.RawMatch{
			Status:      "active",
			CurrentTurn: api.Int(turn),
			Player1:     &api.RawPlayer{PlayerID: "p1"},
			Player2:     &api.RawPlayer{PlayerID: "p2"},
		}, nil
	}
}

func failing(msg string) func() (*api.RawMatch, error) {
	return func() (*api.RawMatch, error) { return nil, errors.New(msg) }
}

func recvResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for poll result")
		return Result{}
	}
}

func TestRun_RequiresIdentity(t *testing.T) {
	f := &scriptedFetcher{script: []func() (*api.RawMatch, error){active(1)}}

	for _, ids := range [][2]string{{"", "p1"}, {"m1", ""}} {
		p := New(f, ids[0], ids[1], clock.NewMock(), zerolog.Nop())
		err := p.Run(context.Background(), func(Result) bool { return true })
		assert.ErrorIs(t, err, ErrMissingIdentity)
	}
	assert.Equal(t, 0, f.Calls())
}

func TestRun_PollsImmediatelyThenOnInterval(t *testing.T) {
	f := &scriptedFetcher{script: []func() (*api.RawMatch, error){
		active(1),
		failing("gateway timeout"),
		active(2),
		func() (*api.RawMatch, error) {
			return &api.RawMatch{Status: "completed", Winner: "p1", Player1: &api.RawPlayer{PlayerID: "p1"}}, nil
		},
	}}
	mock := clock.NewMock()
	p := New(f, "m1", "p1", mock, zerolog.Nop())

	results := make(chan Result, 8)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), func(r Result) bool {
			results <- r
			return true
		})
	}()

	first := recvResult(t, results)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.State.Turn)
	assert.Equal(t, "m1", first.State.MatchID)

	mock.Add(time.Second)
	assert.Equal(t, 1, f.Calls(), "no poll before the interval")

	mock.Add(time.Second)
	second := recvResult(t, results)
	assert.ErrorContains(t, second.Err, "gateway timeout")

	mock.Add(2 * time.Second)
	third := recvResult(t, results)
	require.NoError(t, third.Err)
	assert.Equal(t, 2, third.State.Turn)

	mock.Add(2 * time.Second)
	last := recvResult(t, results)
	assert.Equal(t, domain.PhaseFinished, last.State.Phase)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop after FINISHED")
	}
	assert.Equal(t, []string{"m1/p1", "m1/p1", "m1/p1", "m1/p1"}, f.seen)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &scriptedFetcher{script: []func() (*api.RawMatch, error){active(1)}}
	p := New(f, "m1", "p1", clock.NewMock(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 1)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(r Result) bool {
			results <- r
			return true
		})
	}()

	recvResult(t, results)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop on cancel")
	}
}

func TestRun_StopsWhenDeliveryRefused(t *testing.T) {
	f := &scriptedFetcher{script: []func() (*api.RawMatch, error){active(1)}}
	p := New(f, "m1", "p1", clock.NewMock(), zerolog.Nop())

	err := p.Run(context.Background(), func(Result) bool { return false })
	assert.NoError(t, err)
	assert.Equal(t, 1, f.Calls())
}

func TestPoll_WrapsFetchError(t *testing.T) {
	f := &scriptedFetcher{script: []func() (*api.RawMatch, error){
		func() (*api.RawMatch, error) { return nil, api.ErrMatchUnavailable },
	}}
	p := New(f, "m1", "p1", clock.NewMock(), zerolog.Nop())

	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, api.ErrMatchUnavailable)
	assert.ErrorContains(t, err, "m1")
}
