package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"roachy-battlesync/internal/api"
	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
	"roachy-battlesync/internal/normalize"
)

var ErrMissingIdentity = errors.New("match id and player id are required to poll")

type MatchFetcher interface {
	GetMatch(ctx context.Context, matchID, playerID string) (*api.RawMatch, error)
}

// Result is one poll outcome. Err is set when the fetch failed; State is then zero.
type Result struct {
	State domain.MatchState
	Err   error
	At    time.Time
}

type Poller struct {
	fetcher  MatchFetcher
	matchID  string
	playerID string
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger
}

func New(fetcher MatchFetcher, matchID, playerID string, clk clock.Clock, logger zerolog.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		matchID:  matchID,
		playerID: playerID,
		interval: constants.PollInterval,
		clock:    clk,
		logger:   logger,
	}
}

// Poll fetches and normalizes one snapshot.
func (p *Poller) Poll(ctx context.Context) (domain.MatchState, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	raw, err := p.fetcher.GetMatch(ctx, p.matchID, p.playerID)
	if err != nil {
		return domain.MatchState{}, fmt.Errorf("failed to fetch match %s: %w", p.matchID, err)
	}
	return normalize.Match(p.matchID, raw, p.playerID), nil
}

// Run polls immediately and then on every interval, handing each result to
// deliver. It returns nil once a FINISHED snapshot has been delivered, or
// when deliver reports that nobody is listening any more.
func (p *Poller) Run(ctx context.Context, deliver func(Result) bool) error {
	if p.matchID == "" || p.playerID == "" {
		return ErrMissingIdentity
	}

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		state, err := p.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("match_id", p.matchID).
				Msg("match poll failed, retrying next tick")
		} else {
			p.logger.Debug().
				Str("match_id", p.matchID).
				Int("turn", state.Turn).
				Str("phase", string(state.Phase)).
				Msg("match polled")
		}

		if !deliver(Result{State: state, Err: err, At: p.clock.Now()}) {
			return nil
		}
		if err == nil && state.Finished() {
			p.logger.Info().Str("match_id", p.matchID).Msg("match finished, polling stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
