package gamesync

import "time"

// GameSnapshot is the server-reported view of one competition instance and the
// caller's participation in it. It is replaced wholesale on every successful
// poll; fields are never merged into an older snapshot.
type GameSnapshot struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	PracticeMode bool                `json:"practice_mode"`
	TeamStatus   ParticipationStatus `json:"team_status"`
	TeamInfo     *TeamInfo           `json:"team_info"`
}

// TeamInfo is the embedded team record of a snapshot. Nil when the session
// has no team registered for the game.
type TeamInfo struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
	Avatar string  `json:"avatar"`
}

// Phase is the discrete lifecycle stage of a competition, derived purely from
// wall-clock time and the practice flag. PhaseNoSuchGame is never derived from
// time; only the engine writes it, on an explicit not-found from the transport.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseRunning    Phase = "running"
	PhaseEnded      Phase = "ended"
	PhasePractice   Phase = "practice"
	PhaseNoSuchGame Phase = "no_such_game"
)

// ParticipationStatus is a team's standing relative to one competition.
type ParticipationStatus string

const (
	ParticipationUnLogin      ParticipationStatus = "UnLogin"
	ParticipationUnRegistered ParticipationStatus = "UnRegistered"
	ParticipationPending      ParticipationStatus = "Pending"
	ParticipationApproved     ParticipationStatus = "Approved"
	ParticipationBanned       ParticipationStatus = "Banned"
)

// Role of the current session.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Module identifies a gated UI surface.
type Module string

const (
	ModuleChallenges Module = "challenges"
	ModuleScoreboard Module = "scoreboard"
	ModuleTeam       Module = "team"
	ModuleInfo       Module = "info"
)

// VerdictState is the server-side state of one flag submission.
type VerdictState string

const (
	VerdictPending     VerdictState = "Pending"
	VerdictAccepted    VerdictState = "Accepted"
	VerdictWrongAnswer VerdictState = "WrongAnswer"
	VerdictError       VerdictState = "Error"
)

// Terminal reports whether v is final for its submission. A new incorrect
// attempt creates a new submission; it never mutates a terminal one.
func (v VerdictState) Terminal() bool {
	return v == VerdictAccepted || v == VerdictWrongAnswer || v == VerdictError
}

// Submission is one flag submission record as tracked by the workflow.
type Submission struct {
	ID          int64        `json:"id"`
	ChallengeID int64        `json:"challenge_id"`
	Flag        string       `json:"flag"`
	State       VerdictState `json:"state"`
}

// SolveStatus is the per-challenge solved flag plus the submission that set it.
type SolveStatus struct {
	Solved           bool  `json:"solved"`
	LastSubmissionID int64 `json:"last_submission_id,omitempty"`
}

// SolveSet maps challenge ids to their solve status.
type SolveSet map[int64]SolveStatus
