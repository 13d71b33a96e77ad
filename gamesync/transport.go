package gamesync

import (
	"context"
	"errors"
)

// Failure classes the engine tells apart with errors.Is. Transports must wrap
// these for the corresponding HTTP statuses; any other error is treated as
// transient and retried on the next tick.
var (
	// ErrUnauthorized means the session is missing or expired (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the game id does not exist (404).
	ErrNotFound = errors.New("not found")
)

// Transport is the interface for competition platform integrations.
type Transport interface {
	// GameSnapshot retrieves the combined game and team state for a game.
	GameSnapshot(ctx context.Context, gameID int64) (*GameSnapshot, error)

	// SubmitFlag posts a candidate flag and returns the server-assigned
	// submission id. The verdict is obtained separately via SubmissionState.
	SubmitFlag(ctx context.Context, gameID, challengeID int64, flag string) (int64, error)

	// SubmissionState returns the current state of a prior submission.
	SubmissionState(ctx context.Context, gameID, challengeID, submissionID int64) (VerdictState, error)

	// SolvedChallenges returns the ids of challenges the team already solved.
	// Returns an empty slice if the platform does not track solves.
	SolvedChallenges(ctx context.Context, gameID int64) ([]int64, error)
}
