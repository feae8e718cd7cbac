// Package engine holds the client-side battle state machine. An Engine is
// not safe for concurrent use; a single goroutine owns it and feeds it poll
// results, timer ticks and player commands, then performs the returned Effect.
package engine

import (
	"errors"

	"github.com/brunoga/deep/v2"
	"github.com/rs/zerolog"

	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/diff"
	"roachy-battlesync/internal/domain"
)

var (
	ErrNoMatch       = errors.New("no match snapshot yet")
	ErrMatchFinished = errors.New("match is finished")
	ErrNoAliveUnits  = errors.New("no alive units to act")
)

type Effect interface{ isEffect() }

// Submit asks the owner to send actions for Turn and report back through
// SubmitFinished.
type Submit struct {
	MatchID  string
	PlayerID string
	Turn     int
	Actions  []domain.RoachyAction
	Source   domain.SubmissionSource
}

// Finished is returned once, for the first FINISHED snapshot.
type Finished struct {
	State domain.MatchState
}

func (Submit) isEffect()   {}
func (Finished) isEffect() {}

type Engine struct {
	playerID   string
	state      *domain.MatchState
	timeline   *diff.Timeline
	timer      *TurnTimer
	selector   *Selector
	submission *Submission
	pollErr    error
	finished   bool
	logger     zerolog.Logger
}

func New(playerID string, logger zerolog.Logger) *Engine {
	return &Engine{
		playerID:   playerID,
		timeline:   diff.NewTimeline(constants.ReplayLimit),
		timer:      NewTurnTimer(constants.TurnDurationSecs),
		selector:   NewSelector(),
		submission: NewSubmission(),
		logger:     logger,
	}
}

// Observe replaces the current snapshot with next and returns the combat
// events produced by diffing the two.
func (e *Engine) Observe(next domain.MatchState) ([]domain.CombatEvent, Effect) {
	prev := e.state
	events := e.timeline.Apply(prev, next)
	e.state = &next
	e.pollErr = nil

	moved := prev == nil || prev.Turn != next.Turn || prev.Phase != next.Phase
	if moved && prev != nil && prev.Turn != next.Turn {
		e.selector.Clear()
	}
	e.selector.Prune(next)

	if next.Finished() {
		e.timer.Stop()
		if e.finished {
			return events, nil
		}
		e.finished = true
		e.logger.Info().
			Str("match_id", next.MatchID).
			Str("winner", next.Winner).
			Str("win_reason", next.WinReason).
			Msg("match finished")
		return events, Finished{State: next}
	}

	if moved && next.Phase == domain.PhaseSelection && !e.locked() {
		e.timer.Arm(next.Turn)
		e.logger.Debug().Int("turn", next.Turn).Msg("turn timer armed")
	}
	return events, nil
}

// PollFailed records a fetch error. State is left as it was.
func (e *Engine) PollFailed(err error) {
	e.pollErr = err
}

// Tick advances the turn timer and auto-submits on expiry.
func (e *Engine) Tick() Effect {
	if !e.timer.Tick() {
		return nil
	}
	e.logger.Info().Int("turn", e.turn()).Msg("turn timer expired, auto-submitting")
	return e.AutoSubmit()
}

// AutoSubmit sends the auto-filled action set. It is a no-op when another
// submission already holds the lock.
func (e *Engine) AutoSubmit() Effect {
	if e.state == nil || e.state.Finished() {
		return nil
	}
	actions := e.selector.AutoFill(*e.state)
	if len(actions) == 0 {
		e.logger.Warn().Int("turn", e.state.Turn).Msg("auto-submit skipped, no alive units")
		return nil
	}
	if err := e.submission.Begin(e.state.Turn); err != nil {
		e.logger.Debug().Err(err).Int("turn", e.state.Turn).Msg("auto-submit discarded")
		return nil
	}
	e.timer.Stop()
	return e.submit(actions, domain.SourceAuto)
}

func (e *Engine) Select(action domain.RoachyAction) (domain.RoachyAction, error) {
	if e.state == nil {
		return domain.RoachyAction{}, ErrNoMatch
	}
	if e.state.Finished() {
		return domain.RoachyAction{}, ErrMatchFinished
	}
	return e.selector.Select(*e.state, action, e.locked())
}

func (e *Engine) Deselect(roachyID string) error {
	if e.locked() {
		return ErrLocked
	}
	e.selector.Deselect(roachyID)
	return nil
}

// LockIn submits the explicit selections. Every alive unit needs one.
func (e *Engine) LockIn() (Effect, error) {
	if e.state == nil {
		return nil, ErrNoMatch
	}
	if e.state.Finished() {
		return nil, ErrMatchFinished
	}
	if e.submission.InFlight() {
		return nil, ErrSubmissionInFlight
	}
	if e.submission.SubmittedFor(e.state.Turn) {
		return nil, ErrAlreadySubmitted
	}

	actions, err := e.selector.LockInSet(*e.state)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, ErrNoAliveUnits
	}
	if err := e.submission.Begin(e.state.Turn); err != nil {
		return nil, err
	}
	e.timer.Stop()
	return e.submit(actions, domain.SourceManual), nil
}

// SubmitFinished releases the lock. On success the selections are cleared and
// the next poll brings the resolved state; on failure they are kept and the
// timer is re-armed so expiry can retry.
func (e *Engine) SubmitFinished(err error) {
	turn := e.submission.InFlightTurn()
	if err == nil {
		e.submission.Succeed()
		e.selector.Clear()
	} else {
		e.submission.Fail(err)
	}

	// a poll may have moved the turn on while the request was in flight
	if e.state != nil && e.state.Phase == domain.PhaseSelection && !e.locked() && (err != nil || e.state.Turn != turn) {
		e.timer.Arm(e.state.Turn)
	}
}

// Blur tears the engine down when the match screen loses focus. The previous
// snapshot is discarded so the next poll starts a fresh diff baseline.
func (e *Engine) Blur() {
	e.timer.Stop()
	e.timeline.Reset()
	e.selector.Clear()
	e.state = nil
}

func (e *Engine) TimerRunning() bool { return e.timer.Running() }

func (e *Engine) State() (domain.MatchState, bool) {
	if e.state == nil {
		return domain.MatchState{}, false
	}
	return *e.state, true
}

func (e *Engine) submit(actions []domain.RoachyAction, source domain.SubmissionSource) Submit {
	e.logger.Info().
		Str("match_id", e.state.MatchID).
		Int("turn", e.state.Turn).
		Str("source", string(source)).
		Int("actions", len(actions)).
		Msg("submitting turn")
	return Submit{
		MatchID:  e.state.MatchID,
		PlayerID: e.playerID,
		Turn:     e.state.Turn,
		Actions:  actions,
		Source:   source,
	}
}

// locked is true while a submission is in flight or the current turn was
// already accepted and is waiting to resolve.
func (e *Engine) locked() bool {
	return e.submission.InFlight() || e.submission.SubmittedFor(e.turn())
}

func (e *Engine) turn() int {
	if e.state == nil {
		return 0
	}
	return e.state.Turn
}

// View is a read-only copy of everything a UI needs to render the match.
type View struct {
	Match         *domain.MatchState    `json:"match,omitempty"`
	Phase         domain.Phase          `json:"phase,omitempty"`
	Timeline      []domain.ReplayItem   `json:"timeline"`
	Selections    []domain.RoachyAction `json:"selections"`
	TimeLeft      int                   `json:"timeLeft"`
	TimerState    TimerState            `json:"timerState"`
	Submission    SubmitStatus          `json:"submission"`
	Locked        bool                  `json:"locked"`
	SubmitError   string                `json:"submitError,omitempty"`
	PollError     string                `json:"pollError,omitempty"`
	AwaitingFirst bool                  `json:"awaitingFirst"`
}

func (e *Engine) View() View {
	v := View{
		Timeline:      e.timeline.Items(),
		Selections:    []domain.RoachyAction{},
		TimeLeft:      e.timer.Remaining(),
		TimerState:    e.timer.State(),
		Submission:    e.submission.Status(),
		Locked:        e.locked(),
		AwaitingFirst: e.state == nil,
	}
	if err := e.submission.LastError(); err != nil {
		v.SubmitError = err.Error()
	}
	if e.pollErr != nil {
		v.PollError = e.pollErr.Error()
	}
	if e.state == nil {
		return v
	}

	state := deep.MustCopy(*e.state)
	// the server never reports resolution; it is inferred from the lock
	if state.Phase == domain.PhaseSelection && v.Locked {
		state.Phase = domain.PhaseResolution
	}
	v.Match = &state
	v.Phase = state.Phase
	v.Selections = e.selector.Ordered(*e.state)
	return v
}
