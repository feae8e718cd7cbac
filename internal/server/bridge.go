package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
	"roachy-battlesync/internal/engine"
	"roachy-battlesync/internal/middleware"
	"roachy-battlesync/internal/repository"
	"roachy-battlesync/internal/service"
)

// MatchController is the part of the match session the bridge drives.
type MatchController interface {
	SelectAction(ctx context.Context, action domain.RoachyAction) (domain.RoachyAction, error)
	Deselect(ctx context.Context, roachyID string) error
	LockIn(ctx context.Context) error
	Forfeit(ctx context.Context) error
	View(ctx context.Context) (engine.View, error)
	Subscribe(ctx context.Context) (<-chan engine.View, func(), error)
}

// JournalReader reads back what the session journaled.
type JournalReader interface {
	ListSubmissions(ctx context.Context, matchID string) ([]domain.TurnSubmission, error)
	GetOutcome(ctx context.Context, matchID string) (*domain.MatchOutcome, error)
}

// Bridge is the local HTTP surface a match screen renders from.
type Bridge struct {
	session  MatchController
	journal  JournalReader
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewBridge(session MatchController, journal JournalReader, logger zerolog.Logger) *Bridge {
	return &Bridge{
		session: session,
		journal: journal,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (b *Bridge) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(b.logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/match", b.getView)
	r.Post("/match/actions", b.selectAction)
	r.Delete("/match/actions/{roachyId}", b.deselect)
	r.Post("/match/lock-in", b.lockIn)
	r.Post("/match/forfeit", b.forfeit)
	r.Get("/match/stream", b.stream)
	r.Get("/matches/{matchId}/journal", b.getJournal)
	return r
}

type selectRequest struct {
	RoachyID   string            `json:"roachyId"`
	ActionType domain.ActionType `json:"actionType"`
	TargetID   string            `json:"targetId,omitempty"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

type journalResponse struct {
	MatchID     string                  `json:"matchId"`
	Submissions []domain.TurnSubmission `json:"submissions"`
	Outcome     *domain.MatchOutcome    `json:"outcome"`
}

type streamMessage struct {
	Type string       `json:"type"`
	View *engine.View `json:"view,omitempty"`
}

func (b *Bridge) getView(w http.ResponseWriter, r *http.Request) {
	view, err := b.session.View(r.Context())
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (b *Bridge) selectAction(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.RoachyID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "roachyId is required"})
		return
	}

	action, err := b.session.SelectAction(r.Context(), domain.RoachyAction{
		RoachyID:   req.RoachyID,
		ActionType: req.ActionType,
		TargetID:   req.TargetID,
	})
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (b *Bridge) deselect(w http.ResponseWriter, r *http.Request) {
	if err := b.session.Deselect(r.Context(), chi.URLParam(r, "roachyId")); err != nil {
		b.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Bridge) lockIn(w http.ResponseWriter, r *http.Request) {
	if err := b.session.LockIn(r.Context()); err != nil {
		b.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitting"})
}

// forfeit always answers 202: the screen leaves the match whatever the server said.
func (b *Bridge) forfeit(w http.ResponseWriter, r *http.Request) {
	if err := b.session.Forfeit(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("forfeit not delivered to session")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "leaving"})
}

func (b *Bridge) getJournal(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")

	subs, err := b.journal.ListSubmissions(r.Context(), matchID)
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	outcome, err := b.journal.GetOutcome(r.Context(), matchID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		b.writeError(w, r, err)
		return
	}
	if len(subs) == 0 && outcome == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no journal for match " + matchID})
		return
	}
	if subs == nil {
		subs = []domain.TurnSubmission{}
	}
	writeJSON(w, http.StatusOK, journalResponse{MatchID: matchID, Submissions: subs, Outcome: outcome})
}

func (b *Bridge) stream(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	views, unsub, err := b.session.Subscribe(r.Context())
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	var once sync.Once
	stop := func() { once.Do(unsub) }
	defer stop()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()

	// the reader only exists to notice the client going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stop()
				return
			}
		}
	}()

	for view := range views {
		conn.SetWriteDeadline(time.Now().Add(constants.StreamWriteWait))
		if err := conn.WriteJSON(streamMessage{Type: "view", View: &view}); err != nil {
			logger.Debug().Err(err).Msg("stream write failed")
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(constants.StreamWriteWait))
	conn.WriteJSON(streamMessage{Type: "closed"})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
}

func (b *Bridge) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("bridge request failed")
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var missing *engine.MissingActionsError
	switch {
	case errors.As(err, &missing):
		body.Missing = missing.Units
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, engine.ErrLocked),
		errors.Is(err, engine.ErrSubmissionInFlight),
		errors.Is(err, engine.ErrAlreadySubmitted),
		errors.Is(err, engine.ErrMatchFinished):
		return http.StatusConflict, body
	case errors.Is(err, engine.ErrInvalidAction),
		errors.Is(err, engine.ErrUnknownUnit),
		errors.Is(err, engine.ErrUnitDown),
		errors.Is(err, engine.ErrSkillOnCooldown),
		errors.Is(err, engine.ErrFinisherNotReady),
		errors.Is(err, engine.ErrInvalidTarget),
		errors.Is(err, engine.ErrNoAliveUnits):
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, engine.ErrNoMatch):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusGone, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
