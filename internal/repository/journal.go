package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"roachy-battlesync/internal/domain"
)

var ErrNotFound = errors.New("not found")

// JournalRepository keeps a local record of every submit-turn attempt and the
// final outcome of each match.
type JournalRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewJournalRepository(sqlDB *sql.DB, logger zerolog.Logger) *JournalRepository {
	return &JournalRepository{
		db:     sqlDB,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *JournalRepository) RecordSubmission(ctx context.Context, sub domain.TurnSubmission) error {
	if sub.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		sub.ID = id
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.now()
	}

	actions, err := msgpack.Marshal(sub.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO turn_submissions (id, match_id, player_id, turn, source, actions, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.MatchID, sub.PlayerID, sub.Turn, string(sub.Source), actions, sub.Status, sub.Error, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn submission: %w", err)
	}

	r.logger.Debug().
		Str("id", sub.ID).
		Str("match_id", sub.MatchID).
		Int("turn", sub.Turn).
		Str("status", sub.Status).
		Msg("turn submission journaled")
	return nil
}

// RecordOutcome inserts or replaces the outcome row for a match.
func (r *JournalRepository) RecordOutcome(ctx context.Context, o domain.MatchOutcome) error {
	now := r.now()
	if o.FinishedAt.IsZero() {
		o.FinishedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO matches (match_id, player_id, opponent_id, winner, win_reason, turns, forfeited, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			opponent_id = excluded.opponent_id,
			winner      = excluded.winner,
			win_reason  = excluded.win_reason,
			turns       = excluded.turns,
			forfeited   = excluded.forfeited,
			finished_at = excluded.finished_at,
			updated_at  = excluded.updated_at`,
		o.MatchID, o.PlayerID, o.OpponentID, o.Winner, o.WinReason, o.Turns, o.Forfeited, o.FinishedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match outcome: %w", err)
	}

	r.logger.Info().
		Str("match_id", o.MatchID).
		Str("winner", o.Winner).
		Bool("forfeited", o.Forfeited).
		Msg("match outcome journaled")
	return nil
}

// ListSubmissions returns a match's submissions oldest first.
func (r *JournalRepository) ListSubmissions(ctx context.Context, matchID string) ([]domain.TurnSubmission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, match_id, player_id, turn, source, actions, status, error, created_at
		FROM turn_submissions
		WHERE match_id = ?
		ORDER BY created_at, turn, rowid`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.TurnSubmission
	for rows.Next() {
		var (
			sub     domain.TurnSubmission
			source  string
			actions []byte
		)
		if err := rows.Scan(&sub.ID, &sub.MatchID, &sub.PlayerID, &sub.Turn, &source, &actions, &sub.Status, &sub.Error, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn submission: %w", err)
		}
		sub.Source = domain.SubmissionSource(source)
		if err := msgpack.Unmarshal(actions, &sub.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions for %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turn submissions: %w", err)
	}
	return out, nil
}

func (r *JournalRepository) GetOutcome(ctx context.Context, matchID string) (*domain.MatchOutcome, error) {
	var o domain.MatchOutcome
	err := r.db.QueryRowContext(ctx, `
		SELECT match_id, player_id, opponent_id, winner, win_reason, turns, forfeited, finished_at, created_at, updated_at
		FROM matches
		WHERE match_id = ?`, matchID).
		Scan(&o.MatchID, &o.PlayerID, &o.OpponentID, &o.Winner, &o.WinReason, &o.Turns, &o.Forfeited, &o.FinishedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outcome for match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match outcome: %w", err)
	}
	return &o, nil
}
