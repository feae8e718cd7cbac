package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"roachy-battlesync/internal/config"
	"roachy-battlesync/internal/domain"
)

var ErrMatchUnavailable = errors.New("match unavailable")

// StatusError is returned for any non-2xx answer from the battle API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %d", e.Code)
	}
	return fmt.Sprintf("API error: %d: %s", e.Code, e.Body)
}

type BattleClient struct {
	baseURL string
	token   string
	client  *fasthttp.Client
}

func NewBattleClient(cfg *config.Config) *BattleClient {
	return NewBattleClientWith(cfg.APIBaseURL, cfg.APIToken, &fasthttp.Client{
		MaxConnsPerHost:     16,
		ReadTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
		MaxIdleConnDuration: 1 * time.Minute,
	})
}

func NewBattleClientWith(baseURL, token string, client *fasthttp.Client) *BattleClient {
	return &BattleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type SubmitTurnRequest struct {
	MatchID  string                `json:"matchId"`
	PlayerID string                `json:"playerId"`
	Actions  []domain.RoachyAction `json:"actions"`
}

type ForfeitRequest struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

func (c *BattleClient) GetMatch(ctx context.Context, matchID, playerID string) (*RawMatch, error) {
	u := fmt.Sprintf("%s/api/battles/match/%s?playerId=%s", c.baseURL, url.PathEscape(matchID), url.QueryEscape(playerID))
	resp, err := doRequest[MatchResponse](ctx, c, fasthttp.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.Match == nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrMatchUnavailable, resp.Error)
		}
		return nil, ErrMatchUnavailable
	}
	return resp.Match, nil
}

func (c *BattleClient) SubmitTurn(ctx context.Context, matchID, playerID string, actions []domain.RoachyAction) error {
	u := c.baseURL + "/api/battles/match/submit-turn"
	_, err := doRequest[json.RawMessage](ctx, c, fasthttp.MethodPost, u, SubmitTurnRequest{
		MatchID:  matchID,
		PlayerID: playerID,
		Actions:  actions,
	})
	return err
}

func (c *BattleClient) Forfeit(ctx context.Context, matchID, playerID string) error {
	u := c.baseURL + "/api/battles/match/forfeit"
	_, err := doRequest[json.RawMessage](ctx, c, fasthttp.MethodPost, u, ForfeitRequest{
		MatchID:  matchID,
		PlayerID: playerID,
	})
	return err
}

func doRequest[T any](ctx context.Context, client *BattleClient, method, url string, body any) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if client.token != "" {
		req.Header.Set("Authorization", "Bearer "+client.token)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &StatusError{Code: code, Body: strings.TrimSpace(string(resp.Body()))}
	}

	var result T
	if len(resp.Body()) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
