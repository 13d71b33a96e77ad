package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/miaoaixuan/a1ctf-sync/gamesync"
)

func init() {
	gamesync.Register(gamesync.TransportDef{
		ID:   "script",
		Name: "Custom Script",
		Settings: []gamesync.SettingDef{
			{ID: "command", Name: "Command", Required: true},
		},
		Build: func(s map[string]string) (gamesync.Transport, error) {
			return newScript(s["command"])
		},
	})
}

// scriptClient bridges platforms without native support. The command is run
// once per operation with a JSON request on stdin and must print a JSON
// response on stdout.
type scriptClient struct {
	command []string
	timeout time.Duration
}

func newScript(command string) (*scriptClient, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	return &scriptClient{
		command: parts,
		timeout: 2 * time.Minute,
	}, nil
}

func (c *scriptClient) GameSnapshot(ctx context.Context, gameID int64) (*gamesync.GameSnapshot, error) {
	payload := scriptRequest{Action: "snapshot", GameID: gameID}
	output, err := c.run(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp scriptSnapshotResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("parse snapshot result: %w", err)
	}
	if err := resp.failure(); err != nil {
		return nil, err
	}
	if resp.Snapshot == nil {
		return nil, fmt.Errorf("snapshot result missing snapshot")
	}
	return resp.Snapshot, nil
}

func (c *scriptClient) SubmitFlag(ctx context.Context, gameID, challengeID int64, flag string) (int64, error) {
	payload := scriptRequest{
		Action:      "submit",
		GameID:      gameID,
		ChallengeID: challengeID,
		Flag:        flag,
	}
	output, err := c.run(ctx, payload)
	if err != nil {
		return 0, err
	}

	var resp scriptSubmitResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return 0, fmt.Errorf("parse submit result: %w", err)
	}
	if err := resp.failure(); err != nil {
		return 0, err
	}
	if resp.SubmissionID == 0 {
		return 0, fmt.Errorf("submit result missing submission id")
	}
	return resp.SubmissionID, nil
}

func (c *scriptClient) SubmissionState(ctx context.Context, gameID, challengeID, submissionID int64) (gamesync.VerdictState, error) {
	payload := scriptRequest{
		Action:       "verdict",
		GameID:       gameID,
		ChallengeID:  challengeID,
		SubmissionID: submissionID,
	}
	output, err := c.run(ctx, payload)
	if err != nil {
		return "", err
	}

	var resp scriptVerdictResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("parse verdict result: %w", err)
	}
	if err := resp.failure(); err != nil {
		return "", err
	}
	return parseVerdictState(resp.State), nil
}

func (c *scriptClient) SolvedChallenges(ctx context.Context, gameID int64) ([]int64, error) {
	payload := scriptRequest{Action: "solved", GameID: gameID}
	output, err := c.run(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp scriptSolvedResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("parse solved result: %w", err)
	}
	if err := resp.failure(); err != nil {
		return nil, err
	}
	return resp.Solved, nil
}

func (c *scriptClient) run(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode script request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if stderr != "" {
				return nil, fmt.Errorf("script error: %s", stderr)
			}
		}
		return nil, fmt.Errorf("script error: %w", err)
	}
	return output, nil
}

func parseVerdictState(s string) gamesync.VerdictState {
	switch strings.ToLower(s) {
	case "pending":
		return gamesync.VerdictPending
	case "accepted":
		return gamesync.VerdictAccepted
	case "wrong_answer", "wronganswer":
		return gamesync.VerdictWrongAnswer
	default:
		return gamesync.VerdictError
	}
}

type scriptRequest struct {
	Action       string `json:"action"`
	GameID       int64  `json:"game_id"`
	ChallengeID  int64  `json:"challenge_id,omitempty"`
	SubmissionID int64  `json:"submission_id,omitempty"`
	Flag         string `json:"flag,omitempty"`
}

// scriptFailure lets a script report the engine's failure classes:
// "unauthorized" and "not_found" map to the matching sentinels, anything
// else is a transient error.
type scriptFailure struct {
	Error string `json:"error"`
}

func (f scriptFailure) failure() error {
	switch f.Error {
	case "":
		return nil
	case "unauthorized":
		return fmt.Errorf("script: %w", gamesync.ErrUnauthorized)
	case "not_found":
		return fmt.Errorf("script: %w", gamesync.ErrNotFound)
	default:
		return fmt.Errorf("script: %s", f.Error)
	}
}

type scriptSnapshotResponse struct {
	scriptFailure
	Snapshot *gamesync.GameSnapshot `json:"snapshot"`
}

type scriptSubmitResponse struct {
	scriptFailure
	SubmissionID int64 `json:"submission_id"`
}

type scriptVerdictResponse struct {
	scriptFailure
	State string `json:"state"`
}

type scriptSolvedResponse struct {
	scriptFailure
	Solved []int64 `json:"solved"`
}
