package gamesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

func init() {
	Register(TransportDef{
		ID:   "a1ctf",
		Name: "A1CTF (Token)",
		Settings: []SettingDef{
			{ID: "base_url", Name: "Base URL", Required: true},
			{ID: "token", Name: "API Token", Required: true},
		},
		Build: func(s map[string]string) (Transport, error) {
			return newA1CTF(s["base_url"], bearerAuth(s["token"])), nil
		},
	})

	Register(TransportDef{
		ID:   "a1ctf_cookie",
		Name: "A1CTF (Cookie)",
		Settings: []SettingDef{
			{ID: "base_url", Name: "Base URL", Required: true},
			{ID: "cookie", Name: "Session Cookie", Required: true},
		},
		Build: func(s map[string]string) (Transport, error) {
			return newA1CTF(s["base_url"], cookieAuth(s["cookie"])), nil
		},
	})
}

type a1ctfClient struct {
	baseURL   string
	applyAuth func(*http.Request)
	client    *http.Client
}

func bearerAuth(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func cookieAuth(cookie string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Cookie", cookie)
	}
}

func newA1CTF(baseURL string, auth func(*http.Request)) *a1ctfClient {
	return &a1ctfClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		applyAuth: auth,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *a1ctfClient) GameSnapshot(ctx context.Context, gameID int64) (*GameSnapshot, error) {
	reqURL := fmt.Sprintf("%s/api/game/%d", c.baseURL, gameID)
	var payload a1ctfGameResponse
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

func (c *a1ctfClient) SubmitFlag(ctx context.Context, gameID, challengeID int64, flag string) (int64, error) {
	if flag == "" {
		return 0, fmt.Errorf("flag is required")
	}

	body, err := json.Marshal(map[string]string{"flag": flag})
	if err != nil {
		return 0, fmt.Errorf("encode submission: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/game/%d/challenges/%d/submit", c.baseURL, gameID, challengeID)
	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewBuffer(body))
	if err != nil {
		return 0, err
	}
	c.applyAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return 0, err
	}

	var parsed a1ctfSubmitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("parse submit response: %w", err)
	}
	if parsed.Data.SubmissionID == 0 {
		return 0, fmt.Errorf("submit response missing submission id")
	}
	return parsed.Data.SubmissionID, nil
}

func (c *a1ctfClient) SubmissionState(ctx context.Context, gameID, challengeID, submissionID int64) (VerdictState, error) {
	reqURL := fmt.Sprintf("%s/api/game/%d/challenges/%d/submit/%d", c.baseURL, gameID, challengeID, submissionID)
	var payload a1ctfVerdictResponse
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return "", err
	}
	return parseVerdict(payload.Data.State), nil
}

func (c *a1ctfClient) SolvedChallenges(ctx context.Context, gameID int64) ([]int64, error) {
	reqURL := fmt.Sprintf("%s/api/game/%d/solved", c.baseURL, gameID)
	var payload a1ctfSolvedResponse
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

func (c *a1ctfClient) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// classifyStatus maps the HTTP status onto the engine's failure classes.
// Only 401 and 404 get distinct identities; everything else non-2xx is a
// plain error the engine retries as transient.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return fmt.Errorf("a1ctf request: %w", ErrUnauthorized)
	case status == http.StatusNotFound:
		return fmt.Errorf("a1ctf request: %w", ErrNotFound)
	default:
		return fmt.Errorf("a1ctf request failed (%d): %s", status, strings.TrimSpace(string(body)))
	}
}

// parseVerdict maps the platform's judge-state strings onto verdict states.
// Unknown strings map to Error: a submission must never hang on a state the
// client cannot interpret.
func parseVerdict(state string) VerdictState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "pending", "queueing", "queued", "judging", "running":
		return VerdictPending
	case "accepted", "correct", "flagcorrect", "ac":
		return VerdictAccepted
	case "wronganswer", "wrong_answer", "incorrect", "flagwrong", "wa":
		return VerdictWrongAnswer
	default:
		return VerdictError
	}
}

type a1ctfGameResponse struct {
	Data GameSnapshot `json:"data"`
}

type a1ctfSubmitResponse struct {
	Data struct {
		SubmissionID int64 `json:"submission_id"`
	} `json:"data"`
}

type a1ctfVerdictResponse struct {
	Data struct {
		State string `json:"state"`
	} `json:"data"`
}

type a1ctfSolvedResponse struct {
	Data []int64 `json:"data"`
}
