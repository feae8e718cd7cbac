package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"roachy-battlesync/internal/config"
	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
	"roachy-battlesync/internal/engine"
	"roachy-battlesync/internal/poller"
)

var ErrSessionClosed = errors.New("match session closed")

type BattleAPI interface {
	poller.MatchFetcher
	SubmitTurn(ctx context.Context, matchID, playerID string, actions []domain.RoachyAction) error
	Forfeit(ctx context.Context, matchID, playerID string) error
}

type Journal interface {
	RecordSubmission(ctx context.Context, sub domain.TurnSubmission) error
	RecordOutcome(ctx context.Context, outcome domain.MatchOutcome) error
}

type ExitReason string

const (
	ExitFinished  ExitReason = "finished"
	ExitForfeited ExitReason = "forfeited"
	ExitBlurred   ExitReason = "blurred"
)

type msg interface{ isSessionMsg() }

type pollResult struct{ poller.Result }

type tick struct{}

type selectAction struct {
	action domain.RoachyAction
	reply  chan selectReply
}

type selectReply struct {
	action domain.RoachyAction
	err    error
}

type deselectAction struct {
	roachyID string
	reply    chan error
}

type lockIn struct{ reply chan error }

type submitDone struct {
	submit engine.Submit
	err    error
}

type forfeit struct{}

type getView struct{ reply chan engine.View }

type subscribe struct {
	id  string
	out chan engine.View
}

type unsubscribe struct{ id string }

func (pollResult) isSessionMsg()     {}
func (tick) isSessionMsg()           {}
func (selectAction) isSessionMsg()   {}
func (deselectAction) isSessionMsg() {}
func (lockIn) isSessionMsg()         {}
func (submitDone) isSessionMsg()     {}
func (forfeit) isSessionMsg()        {}
func (getView) isSessionMsg()        {}
func (subscribe) isSessionMsg()      {}
func (unsubscribe) isSessionMsg()    {}

// MatchSession owns one match screen: the poller, the 1s timer ticker and
// the engine all meet in a single loop goroutine. Run may be called once.
type MatchSession struct {
	matchID  string
	playerID string
	api      BattleAPI
	journal  Journal
	clock    clock.Clock
	logger   zerolog.Logger

	inbox chan msg
	done  chan struct{}

	// owned by the loop goroutine
	engine *engine.Engine
	subs   map[string]chan engine.View
}

func NewMatchSession(cfg *config.Config, api BattleAPI, journal Journal, clk clock.Clock, logger zerolog.Logger) *MatchSession {
	if journal == nil {
		journal = noopJournal{}
	}
	logger = logger.With().Str("match_id", cfg.MatchID).Str("player_id", cfg.PlayerID).Logger()
	return &MatchSession{
		matchID:  cfg.MatchID,
		playerID: cfg.PlayerID,
		api:      api,
		journal:  journal,
		clock:    clk,
		logger:   logger,
		inbox:    make(chan msg, constants.InboxSize),
		done:     make(chan struct{}),
		engine:   engine.New(cfg.PlayerID, logger),
		subs:     make(map[string]chan engine.View),
	}
}

// Run drives the session until the match finishes, the player forfeits or
// ctx is cancelled. Cancellation is treated as the screen losing focus.
func (s *MatchSession) Run(ctx context.Context) (ExitReason, error) {
	if s.matchID == "" || s.playerID == "" {
		close(s.done)
		return "", poller.ErrMissingIdentity
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	p := poller.New(s.api, s.matchID, s.playerID, s.clock, s.logger)
	g.Go(func() error {
		err := p.Run(gctx, func(r poller.Result) bool {
			return s.post(gctx, pollResult{r})
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := s.clock.Ticker(constants.TimerTick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if !s.post(gctx, tick{}) {
					return nil
				}
			}
		}
	})

	var reason ExitReason
	g.Go(func() error {
		defer cancel()
		reason = s.loop(gctx, g)
		return nil
	})

	s.logger.Info().Msg("match session started")
	err := g.Wait()
	s.logger.Info().Str("reason", string(reason)).Msg("match session stopped")
	return reason, err
}

func (s *MatchSession) loop(ctx context.Context, g *errgroup.Group) ExitReason {
	defer close(s.done)
	defer s.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			s.engine.Blur()
			return ExitBlurred

		case m := <-s.inbox:
			switch msg := m.(type) {
			case pollResult:
				if msg.Err != nil {
					s.engine.PollFailed(msg.Err)
					s.broadcast()
					break
				}
				_, eff := s.engine.Observe(msg.State)
				s.broadcast()
				if fin, ok := eff.(engine.Finished); ok {
					s.recordOutcome(g, fin.State)
					return ExitFinished
				}
				s.perform(ctx, g, eff)

			case tick:
				running := s.engine.TimerRunning()
				eff := s.engine.Tick()
				if eff != nil || running {
					s.broadcast()
				}
				s.perform(ctx, g, eff)

			case selectAction:
				action, err := s.engine.Select(msg.action)
				msg.reply <- selectReply{action: action, err: err}
				if err == nil {
					s.broadcast()
				}

			case deselectAction:
				err := s.engine.Deselect(msg.roachyID)
				msg.reply <- err
				if err == nil {
					s.broadcast()
				}

			case lockIn:
				eff, err := s.engine.LockIn()
				msg.reply <- err
				if err != nil {
					s.logger.Debug().Err(err).Msg("lock-in rejected")
					break
				}
				s.broadcast()
				s.perform(ctx, g, eff)

			case submitDone:
				s.engine.SubmitFinished(msg.err)
				s.broadcast()

			case forfeit:
				s.startForfeit(g)
				return ExitForfeited

			case getView:
				msg.reply <- s.engine.View()

			case subscribe:
				s.subs[msg.id] = msg.out
				msg.out <- s.engine.View()

			case unsubscribe:
				if ch, ok := s.subs[msg.id]; ok {
					close(ch)
					delete(s.subs, msg.id)
				}
			}
		}
	}
}

func (s *MatchSession) perform(ctx context.Context, g *errgroup.Group, eff engine.Effect) {
	sub, ok := eff.(engine.Submit)
	if !ok {
		return
	}
	g.Go(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
		err := s.api.SubmitTurn(reqCtx, sub.MatchID, sub.PlayerID, sub.Actions)
		cancel()
		if err != nil {
			err = fmt.Errorf("failed to submit turn %d: %w", sub.Turn, err)
			s.logger.Error().Err(err).Int("turn", sub.Turn).Str("source", string(sub.Source)).Msg("turn submission failed")
		} else {
			s.logger.Info().Int("turn", sub.Turn).Str("source", string(sub.Source)).Msg("turn submitted")
		}

		s.recordSubmission(ctx, sub, err)
		s.post(ctx, submitDone{submit: sub, err: err})
		return nil
	})
}

func (s *MatchSession) recordSubmission(ctx context.Context, sub engine.Submit, submitErr error) {
	row := domain.TurnSubmission{
		MatchID:  sub.MatchID,
		PlayerID: sub.PlayerID,
		Turn:     sub.Turn,
		Source:   sub.Source,
		Actions:  sub.Actions,
		Status:   "ok",
	}
	if submitErr != nil {
		row.Status = "failed"
		row.Error = submitErr.Error()
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DatabaseTimeout)
	defer cancel()
	if err := s.journal.RecordSubmission(dbCtx, row); err != nil {
		s.logger.Warn().Err(err).Int("turn", sub.Turn).Msg("failed to journal submission")
	}
}

func (s *MatchSession) recordOutcome(g *errgroup.Group, state domain.MatchState) {
	outcome := domain.MatchOutcome{
		MatchID:    state.MatchID,
		PlayerID:   state.Player.PlayerID,
		OpponentID: state.Opponent.PlayerID,
		Winner:     state.Winner,
		WinReason:  state.WinReason,
		Turns:      state.Turn,
		Forfeited:  state.WinReason == "forfeit",
		FinishedAt: s.clock.Now(),
	}
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
		defer cancel()
		if err := s.journal.RecordOutcome(ctx, outcome); err != nil {
			s.logger.Warn().Err(err).Msg("failed to journal match outcome")
		}
		return nil
	})
}

// startForfeit fires the forfeit request once. Failure is only logged; the
// session exits either way.
func (s *MatchSession) startForfeit(g *errgroup.Group) {
	opponent := ""
	turns := 0
	if state, ok := s.engine.State(); ok {
		opponent = state.Opponent.PlayerID
		turns = state.Turn
	}
	s.engine.Blur()

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), constants.ForfeitTimeout)
		defer cancel()

		if err := s.api.Forfeit(ctx, s.matchID, s.playerID); err != nil {
			s.logger.Error().Err(err).Msg("forfeit failed")
			return nil
		}
		s.logger.Info().Msg("match forfeited")

		if err := s.journal.RecordOutcome(ctx, domain.MatchOutcome{
			MatchID:    s.matchID,
			PlayerID:   s.playerID,
			OpponentID: opponent,
			Winner:     opponent,
			WinReason:  "forfeit",
			Turns:      turns,
			Forfeited:  true,
			FinishedAt: s.clock.Now(),
		}); err != nil {
			s.logger.Warn().Err(err).Msg("failed to journal forfeit")
		}
		return nil
	})
}

func (s *MatchSession) broadcast() {
	if len(s.subs) == 0 {
		return
	}
	view := s.engine.View()
	for id, ch := range s.subs {
		select {
		case ch <- view:
		default:
			// slow consumer
			s.logger.Debug().Str("subscriber", id).Msg("dropping slow subscriber")
			close(ch)
			delete(s.subs, id)
		}
	}
}

func (s *MatchSession) closeSubscribers() {
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// post hands m to the loop. It reports false once the session is gone.
func (s *MatchSession) post(ctx context.Context, m msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *MatchSession) send(ctx context.Context, m msg) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, s *MatchSession, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *MatchSession) SelectAction(ctx context.Context, action domain.RoachyAction) (domain.RoachyAction, error) {
	reply := make(chan selectReply, 1)
	if err := s.send(ctx, selectAction{action: action, reply: reply}); err != nil {
		return domain.RoachyAction{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return domain.RoachyAction{}, err
	}
	return r.action, r.err
}

func (s *MatchSession) Deselect(ctx context.Context, roachyID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, deselectAction{roachyID: roachyID, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// LockIn submits the current selections. It returns once the submission has
// started, not when the server answered; watch the view for the result.
func (s *MatchSession) LockIn(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, lockIn{reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (s *MatchSession) Forfeit(ctx context.Context) error {
	return s.send(ctx, forfeit{})
}

func (s *MatchSession) View(ctx context.Context) (engine.View, error) {
	reply := make(chan engine.View, 1)
	if err := s.send(ctx, getView{reply: reply}); err != nil {
		return engine.View{}, err
	}
	return await(ctx, s, reply)
}

// Subscribe registers for view updates. The current view is delivered first.
// The channel is closed when the session ends or the subscriber falls behind.
func (s *MatchSession) Subscribe(ctx context.Context) (<-chan engine.View, func(), error) {
	id := uuid.NewString()
	out := make(chan engine.View, constants.SubscriberBuf)
	if err := s.send(ctx, subscribe{id: id, out: out}); err != nil {
		return nil, nil, err
	}
	unsub := func() {
		select {
		case s.inbox <- unsubscribe{id: id}:
		case <-s.done:
		}
	}
	return out, unsub, nil
}

// Done is closed once the session loop has exited.
func (s *MatchSession) Done() <-chan struct{} { return s.done }

type noopJournal struct{}

func (noopJournal) RecordSubmission(context.Context, domain.TurnSubmission) error { return nil }
func (noopJournal) RecordOutcome(context.Context, domain.MatchOutcome) error      { return nil }
