package gamesync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Local rejection reasons. None of these reach the network.
var (
	ErrEmptyFlag           = errors.New("flag is required")
	ErrSubmissionClosed    = errors.New("submission not permitted in current phase")
	ErrSubmissionInFlight  = errors.New("a submission for this challenge is already awaiting its verdict")
	ErrSubmissionThrottled = errors.New("submitting too fast")
)

// WorkflowState is the lifecycle stage of one submission attempt.
type WorkflowState string

const (
	WorkflowIdle            WorkflowState = "idle"
	WorkflowSubmitting      WorkflowState = "submitting"
	WorkflowAwaitingVerdict WorkflowState = "awaiting_verdict"
	WorkflowResolved        WorkflowState = "resolved"
)

// SubmitterOptions tune a submitter. The zero value is usable.
type SubmitterOptions struct {
	// PollInterval between verdict polls. Default 500ms.
	PollInterval time.Duration

	// MaxPolls is the verdict poll ceiling; past it the attempt resolves to
	// VerdictError. Default 60.
	MaxPolls int

	// Limit and Burst configure the local flood guard. Defaults: one submit
	// per second, burst 3.
	Limit rate.Limit
	Burst int

	// OnUnauthorized fires at most once if a submit or verdict poll comes
	// back 401. Same contract as EngineOptions.OnUnauthorized.
	OnUnauthorized func()

	Logger *slog.Logger
}

// Submitter runs flag-submission workflows for one game. It is the sole
// writer of the solve set on terminal Accepted verdicts; the hosting view
// seeds it once via SeedSolved.
type Submitter struct {
	transport     Transport
	gameID        int64
	phase         *Cell[Phase]
	participation *Cell[ParticipationStatus]
	role          Role
	solved        *Cell[SolveSet]
	interval      time.Duration
	maxPolls      int
	limiter       *rate.Limiter
	log           *slog.Logger

	onUnauthorized func()
	redirectOnce   sync.Once

	mu       sync.Mutex
	inflight map[int64]*Attempt
}

// NewSubmitter builds a submitter reading phase and participation from the
// given cells (normally an engine's). role decides admin bypass at the gate.
func NewSubmitter(transport Transport, gameID int64, phase *Cell[Phase], participation *Cell[ParticipationStatus], role Role, opts SubmitterOptions) *Submitter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 60
	}
	if opts.Limit <= 0 {
		opts.Limit = rate.Every(time.Second)
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Submitter{
		transport:      transport,
		gameID:         gameID,
		phase:          phase,
		participation:  participation,
		role:           role,
		solved:         NewCell[SolveSet](),
		interval:       opts.PollInterval,
		maxPolls:       opts.MaxPolls,
		limiter:        rate.NewLimiter(opts.Limit, opts.Burst),
		log:            opts.Logger.With("game_id", gameID),
		onUnauthorized: opts.OnUnauthorized,
		inflight:       make(map[int64]*Attempt),
	}
}

// Solved is the per-challenge solve set. Entries flip to solved on terminal
// Accepted verdicts and never regress to unsolved.
func (s *Submitter) Solved() *Cell[SolveSet] { return s.solved }

// SeedSolved loads the already-solved challenge ids once per view mount.
// Solves recorded locally in the meantime are kept.
func (s *Submitter) SeedSolved(ctx context.Context) error {
	ids, err := s.transport.SolvedChallenges(ctx, s.gameID)
	if err != nil {
		return err
	}
	s.solved.Update(func(prev SolveSet, ok bool) SolveSet {
		next := make(SolveSet, len(prev)+len(ids))
		for cid, st := range prev {
			next[cid] = st
		}
		for _, cid := range ids {
			entry := next[cid]
			entry.Solved = true
			next[cid] = entry
		}
		return next
	})
	return nil
}

// SubmitAllowed reports whether the gate would admit a submission right now.
func (s *Submitter) SubmitAllowed() bool {
	phase, _ := s.phase.Get()
	participation, _ := s.participation.Get()
	return AccessGate(phase, participation, s.role, ModuleChallenges)
}

// Submit starts one submission workflow. It rejects locally, without a
// network call, when the flag is empty, the gate is closed, a prior attempt
// for the same challenge is still awaiting its verdict, or the flood guard
// trips. The returned attempt resolves asynchronously; cancelling ctx
// resolves it to VerdictError.
func (s *Submitter) Submit(ctx context.Context, challengeID int64, flag string) (*Attempt, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil, ErrEmptyFlag
	}
	if !s.SubmitAllowed() {
		return nil, ErrSubmissionClosed
	}

	s.mu.Lock()
	if _, busy := s.inflight[challengeID]; busy {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if !s.limiter.Allow() {
		s.mu.Unlock()
		return nil, ErrSubmissionThrottled
	}
	a := &Attempt{
		CorrelationID: uuid.NewString(),
		ChallengeID:   challengeID,
		flag:          flag,
		state:         WorkflowSubmitting,
		done:          make(chan struct{}),
	}
	s.inflight[challengeID] = a
	s.mu.Unlock()

	go s.runAttempt(ctx, a)
	return a, nil
}

func (s *Submitter) runAttempt(ctx context.Context, a *Attempt) {
	log := s.log.With("challenge_id", a.ChallengeID, "attempt", a.CorrelationID)

	submissionID, err := s.transport.SubmitFlag(ctx, s.gameID, a.ChallengeID, a.flag)
	if err != nil {
		log.Warn("flag submit failed", "err", err)
		s.noteUnauthorized(err)
		s.resolve(a, VerdictError)
		return
	}
	a.toAwaitingVerdict(submissionID)
	log.Debug("flag submitted", "submission_id", submissionID)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for i := 0; i < s.maxPolls; i++ {
		select {
		case <-ctx.Done():
			s.resolve(a, VerdictError)
			return
		case <-timer.C:
		}
		timer.Reset(s.interval)

		state, err := s.transport.SubmissionState(ctx, s.gameID, a.ChallengeID, submissionID)
		if err != nil {
			// Transient until proven otherwise; the ceiling bounds us.
			log.Debug("verdict poll failed", "err", err)
			s.noteUnauthorized(err)
			if errors.Is(err, ErrUnauthorized) {
				s.resolve(a, VerdictError)
				return
			}
			continue
		}
		if state.Terminal() {
			log.Debug("verdict received", "state", state)
			s.resolve(a, state)
			return
		}
	}

	// A submission must never be silently dropped: timing out the verdict
	// poll is a user-visible error, not a retry.
	log.Warn("verdict poll ceiling reached", "submission_id", submissionID)
	s.resolve(a, VerdictError)
}

func (s *Submitter) resolve(a *Attempt, state VerdictState) {
	if state == VerdictAccepted {
		s.markSolved(a.ChallengeID, a.submissionID())
	}

	s.mu.Lock()
	delete(s.inflight, a.ChallengeID)
	s.mu.Unlock()

	a.toResolved(state)
}

func (s *Submitter) markSolved(challengeID, submissionID int64) {
	s.solved.Update(func(prev SolveSet, ok bool) SolveSet {
		next := make(SolveSet, len(prev)+1)
		for cid, st := range prev {
			next[cid] = st
		}
		entry := next[challengeID]
		entry.Solved = true
		entry.LastSubmissionID = submissionID
		next[challengeID] = entry
		return next
	})
}

func (s *Submitter) noteUnauthorized(err error) {
	if errors.Is(err, ErrUnauthorized) && s.onUnauthorized != nil {
		s.redirectOnce.Do(s.onUnauthorized)
	}
}

// Attempt is one running submission workflow. Discard it after it resolves;
// a retry is a new attempt.
type Attempt struct {
	// CorrelationID identifies this attempt in logs before (and after) the
	// server assigns a submission id.
	CorrelationID string
	ChallengeID   int64

	flag string

	mu         sync.Mutex
	state      WorkflowState
	submission Submission
	done       chan struct{}
}

// State returns the current workflow state.
func (a *Attempt) State() WorkflowState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed when the attempt resolves.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks until the attempt resolves or ctx expires, returning the final
// submission record.
func (a *Attempt) Wait(ctx context.Context) (Submission, error) {
	select {
	case <-ctx.Done():
		return Submission{}, ctx.Err()
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.submission, nil
	}
}

func (a *Attempt) toAwaitingVerdict(submissionID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = WorkflowAwaitingVerdict
	a.submission = Submission{
		ID:          submissionID,
		ChallengeID: a.ChallengeID,
		Flag:        a.flag,
		State:       VerdictPending,
	}
}

func (a *Attempt) toResolved(state VerdictState) {
	a.mu.Lock()
	a.state = WorkflowResolved
	a.submission.ChallengeID = a.ChallengeID
	a.submission.Flag = a.flag
	a.submission.State = state
	a.mu.Unlock()
	close(a.done)
}

func (a *Attempt) submissionID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submission.ID
}
