package service

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
	"roachy-battlesync/internal/config"
	"roachy-battlesync/internal/domain"
	"roachy-battlesync/internal/engine"
	"roachy-battlesync/internal/poller"
)

type submitCall struct {
	matchID  string
	playerID string
	actions  []domain.RoachyAction
}

type fakeAPI struct {
	mu         sync.Mutex
	match      *api.RawMatch
	submits    []submitCall
	submitErr  error
	gate       chan struct{}
	forfeits   int
	forfeitErr error
}

func (f *fakeAPI) GetMatch(context.Context, string, string) (*api.RawMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match == nil {
		return nil, api.ErrMatchUnavailable
	}
	m := *f.match
	return &m, nil
}

func (f *fakeAPI) SubmitTurn(_ context.Context, matchID, playerID string, actions []domain.RoachyAction) error {
	f.mu.Lock()
	f.submits = append(f.submits, submitCall{matchID: matchID, playerID: playerID, actions: actions})
	gate, err := f.gate, f.submitErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAPI) Forfeit(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forfeits++
	return f.forfeitErr
}

func (f *fakeAPI) setMatch(m *api.RawMatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.match = m
}

func (f *fakeAPI) submitCalls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.submits...)
}

func (f *fakeAPI) forfeitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forfeits
}

type memJournal struct {
	mu       sync.Mutex
	subs     []domain.TurnSubmission
	outcomes []domain.MatchOutcome
}

func (j *memJournal) RecordSubmission(_ context.Context, sub domain.TurnSubmission) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subs = append(j.subs, sub)
	return nil
}

func (j *memJournal) RecordOutcome(_ context.Context, o domain.MatchOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *memJournal) submissions() []domain.TurnSubmission {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.TurnSubmission(nil), j.subs...)
}

func (j *memJournal) outcomeList() []domain.MatchOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.MatchOutcome(nil), j.outcomes...)
}

func rawUnit(id, name string, hp int) api.RawUnit {
	return api.RawUnit{ID: id, Name: name, HP: api.Int(hp), MaxHP: api.Int(100)}
}

func rawMatch(turn int) *api.RawMatch {
	return &api.RawMatch{
		Status:      "active",
		CurrentTurn: api.Int(turn),
		Player1: &api.RawPlayer{
			PlayerID: "p1",
			Momentum: api.Int(20),
			Team:     []api.RawUnit{rawUnit("r1", "Skitter", 100), rawUnit("r2", "Crunch", 80), rawUnit("r3", "Glimmer", 60)},
		},
		Player2: &api.RawPlayer{
			PlayerID: "p2",
			Team:     []api.RawUnit{rawUnit("e1", "Rust", 0), rawUnit("e2", "Bolt", 70)},
		},
	}
}

type harness struct {
	session *MatchSession
	api     *fakeAPI
	journal *memJournal
	clock   *clock.Mock
	cancel  context.CancelFunc
	exit    chan runExit
}

type runExit struct {
	reason ExitReason
	err    error
}

func start(t *testing.T, f *fakeAPI) *harness {
	t.Helper()
	h := &harness{
		api:     f,
		journal: &memJournal{},
		clock:   clock.NewMock(),
		exit:    make(chan runExit, 1),
	}
	cfg := &config.Config{MatchID: "m1", PlayerID: "p1"}
	h.session = NewMatchSession(cfg, f, h.journal, h.clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() {
		reason, err := h.session.Run(ctx)
		h.exit <- runExit{reason: reason, err: err}
	}()
	return h
}

func (h *harness) view(t *testing.T) engine.View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := h.session.View(ctx)
	require.NoError(t, err)
	return v
}

func (h *harness) waitFor(t *testing.T, cond func(engine.View) bool, msg string) engine.View {
	t.Helper()
	var last engine.View
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		v, err := h.session.View(ctx)
		if err != nil {
			return false
		}
		last = v
		return cond(v)
	}, 2*time.Second, 5*time.Millisecond, msg)
	return last
}

func (h *harness) waitExit(t *testing.T) runExit {
	t.Helper()
	select {
	case e := <-h.exit:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not exit")
		return runExit{}
	}
}

func (h *harness) selectAll(t *testing.T, action domain.ActionType) {
	t.Helper()
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := h.session.SelectAction(context.Background(), domain.RoachyAction{RoachyID: id, ActionType: action})
		require.NoError(t, err)
	}
}

func ready(v engine.View) bool {
	return v.Match != nil && v.TimerState == engine.TimerRunning
}

func TestSession_RequiresIdentity(t *testing.T) {
	s := NewMatchSession(&config.Config{MatchID: "m1"}, &fakeAPI{}, nil, clock.NewMock(), zerolog.Nop())
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, poller.ErrMissingIdentity)

	_, err = s.View(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_TimerExpiryAutoSubmits(t *testing.T) {
	h := start(t, &fakeAPI{match: rawMatch(1)})
	h.waitFor(t, ready, "first snapshot")

	_, err := h.session.SelectAction(context.Background(), domain.RoachyAction{RoachyID: "r2", ActionType: domain.ActionGuard})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		return len(h.api.submitCalls()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	calls := h.api.submitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "m1", calls[0].matchID)
	assert.Equal(t, "p1", calls[0].playerID)
	assert.Equal(t, []domain.RoachyAction{
		{RoachyID: "r1", ActionType: domain.ActionBasicAttack, TargetID: "e2"},
		{RoachyID: "r2", ActionType: domain.ActionGuard},
		{RoachyID: "r3", ActionType: domain.ActionBasicAttack, TargetID: "e2"},
	}, calls[0].actions)

	v := h.waitFor(t, func(v engine.View) bool { return len(h.journal.submissions()) == 1 && v.Submission == engine.SubmitIdle }, "submission settles")
	assert.True(t, v.Locked)
	assert.Equal(t, domain.PhaseResolution, v.Phase)

	row := h.journal.submissions()[0]
	assert.Equal(t, domain.SourceAuto, row.Source)
	assert.Equal(t, "ok", row.Status)
	assert.Equal(t, 1, row.Turn)

	for i := 0; i < 15; i++ {
		h.clock.Add(time.Second)
	}
	assert.Len(t, h.api.submitCalls(), 1, "no resubmit for an accepted turn")
}

func TestSession_LockInBeatsExpiry(t *testing.T) {
	f := &fakeAPI{match: rawMatch(1), gate: make(chan struct{})}
	h := start(t, f)
	h.waitFor(t, ready, "first snapshot")

	h.selectAll(t, domain.ActionFocus)
	require.NoError(t, h.session.LockIn(context.Background()))

	for i := 0; i < 15; i++ {
		h.clock.Add(time.Second)
	}
	err := h.session.LockIn(context.Background())
	assert.ErrorIs(t, err, engine.ErrSubmissionInFlight)

	v := h.view(t)
	assert.Equal(t, engine.SubmitSubmitting, v.Submission)
	assert.Equal(t, domain.PhaseResolution, v.Phase)

	close(f.gate)
	h.waitFor(t, func(v engine.View) bool { return v.Submission == engine.SubmitIdle }, "submission settles")

	calls := f.submitCalls()
	require.Len(t, calls, 1)
	for _, a := range calls[0].actions {
		assert.Equal(t, domain.ActionFocus, a.ActionType)
	}
	assert.Equal(t, domain.SourceManual, h.journal.submissions()[0].Source)
}

func TestSession_ExpiryBeatsLockIn(t *testing.T) {
	f := &fakeAPI{match: rawMatch(1), gate: make(chan struct{})}
	h := start(t, f)
	h.waitFor(t, ready, "first snapshot")
	h.selectAll(t, domain.ActionGuard)

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		return len(f.submitCalls()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	err := h.session.LockIn(context.Background())
	assert.ErrorIs(t, err, engine.ErrSubmissionInFlight)

	close(f.gate)
	h.waitFor(t, func(v engine.View) bool { return v.Submission == engine.SubmitIdle }, "submission settles")
	assert.Len(t, f.submitCalls(), 1)
}

func TestSession_FailedSubmissionKeepsSelections(t *testing.T) {
	f := &fakeAPI{match: rawMatch(1), submitErr: errors.New("503 upstream")}
	h := start(t, f)
	h.waitFor(t, ready, "first snapshot")
	h.selectAll(t, domain.ActionGuard)

	require.NoError(t, h.session.LockIn(context.Background()))

	v := h.waitFor(t, func(v engine.View) bool { return v.Submission == engine.SubmitError }, "submission fails")
	assert.Contains(t, v.SubmitError, "503 upstream")
	assert.Len(t, v.Selections, 3)
	assert.False(t, v.Locked)
	assert.Equal(t, engine.TimerRunning, v.TimerState)
	require.NotNil(t, v.Match)
	assert.Equal(t, 1, v.Match.Turn)

	rows := h.journal.submissions()
	require.Len(t, rows, 1)
	assert.Equal(t, "failed", rows[0].Status)
	assert.Contains(t, rows[0].Error, "503 upstream")
}

func TestSession_RejectionsAreReturned(t *testing.T) {
	m := rawMatch(1)
	m.Player1.Team[0].Cooldowns = &api.RawCooldowns{SkillA: api.Int(2)}
	h := start(t, &fakeAPI{match: m})
	h.waitFor(t, ready, "first snapshot")

	_, err := h.session.SelectAction(context.Background(), domain.RoachyAction{RoachyID: "r1", ActionType: domain.ActionSkillA})
	assert.ErrorIs(t, err, engine.ErrSkillOnCooldown)
	_, err = h.session.SelectAction(context.Background(), domain.RoachyAction{RoachyID: "r1", ActionType: domain.ActionFinisher})
	assert.ErrorIs(t, err, engine.ErrFinisherNotReady)

	err = h.session.LockIn(context.Background())
	var missing *engine.MissingActionsError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, missing.Units, 3)
	assert.Empty(t, h.view(t).Selections)
}

func TestSession_PollFailureSurfacesAndRecovers(t *testing.T) {
	f := &fakeAPI{}
	h := start(t, f)

	v := h.waitFor(t, func(v engine.View) bool { return v.PollError != "" }, "poll error surfaced")
	assert.True(t, v.AwaitingFirst)

	f.setMatch(rawMatch(1))
	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		v, err := h.session.View(context.Background())
		return err == nil && v.Match != nil && v.PollError == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_SubscribersAndFinish(t *testing.T) {
	f := &fakeAPI{match: rawMatch(1)}
	h := start(t, f)
	h.waitFor(t, ready, "first snapshot")

	views, unsub, err := h.session.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsub()

	last := make(chan engine.View, 1)
	go func() {
		var final engine.View
		for v := range views {
			final = v
		}
		last <- final
	}()

	done := rawMatch(2)
	done.Status = "completed"
	done.Winner = "p1"
	done.WinReason = "all_kos"
	done.Player2.Team[1].HP = api.Int(0)
	f.setMatch(done)

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		select {
		case <-h.session.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	exit := h.waitExit(t)
	require.NoError(t, exit.err)
	assert.Equal(t, ExitFinished, exit.reason)

	var final engine.View
	select {
	case final = <-last:
	case <-time.After(time.Second):
		t.Fatalf("subscriber channel not closed")
	}
	require.NotNil(t, final.Match)
	assert.Equal(t, domain.PhaseFinished, final.Phase)

	outcomes := h.journal.outcomeList()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "p1", outcomes[0].Winner)
	assert.Equal(t, "p2", outcomes[0].OpponentID)
	assert.Equal(t, 2, outcomes[0].Turns)
}

func TestSession_ForfeitAlwaysExits(t *testing.T) {
	for _, forfeitErr := range []error{nil, errors.New("already over")} {
		f := &fakeAPI{match: rawMatch(1), forfeitErr: forfeitErr}
		h := start(t, f)
		h.waitFor(t, ready, "first snapshot")

		require.NoError(t, h.session.Forfeit(context.Background()))

		exit := h.waitExit(t)
		require.NoError(t, exit.err)
		assert.Equal(t, ExitForfeited, exit.reason)
		assert.Equal(t, 1, f.forfeitCalls())

		if forfeitErr == nil {
			outcomes := h.journal.outcomeList()
			require.Len(t, outcomes, 1)
			assert.True(t, outcomes[0].Forfeited)
			assert.Equal(t, "p2", outcomes[0].Winner)
		} else {
			assert.Empty(t, h.journal.outcomeList())
		}

		assert.ErrorIs(t, h.session.Forfeit(context.Background()), ErrSessionClosed)
	}
}

func TestSession_CancelIsBlur(t *testing.T) {
	h := start(t, &fakeAPI{match: rawMatch(1)})
	h.waitFor(t, ready, "first snapshot")

	h.cancel()
	exit := h.waitExit(t)
	require.NoError(t, exit.err)
	assert.Equal(t, ExitBlurred, exit.reason)

	_, err := h.session.View(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
