package gamesync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTransport scripts transport behavior per call. Shared with the
// submission workflow tests.
type fakeTransport struct {
	snapCalls   atomic.Int64
	submitCalls atomic.Int64
	stateCalls  atomic.Int64
	solvedCalls atomic.Int64

	snapshot func(call int64) (*GameSnapshot, error)
	submit   func(challengeID int64, flag string) (int64, error)
	state    func(submissionID, call int64) (VerdictState, error)
	solved   func() ([]int64, error)
}

func (f *fakeTransport) GameSnapshot(ctx context.Context, gameID int64) (*GameSnapshot, error) {
	call := f.snapCalls.Add(1)
	if f.snapshot == nil {
		return nil, fmt.Errorf("unexpected snapshot call")
	}
	return f.snapshot(call)
}

func (f *fakeTransport) SubmitFlag(ctx context.Context, gameID, challengeID int64, flag string) (int64, error) {
	f.submitCalls.Add(1)
	if f.submit == nil {
		return 0, fmt.Errorf("unexpected submit call")
	}
	return f.submit(challengeID, flag)
}

func (f *fakeTransport) SubmissionState(ctx context.Context, gameID, challengeID, submissionID int64) (VerdictState, error) {
	call := f.stateCalls.Add(1)
	if f.state == nil {
		return "", fmt.Errorf("unexpected state call")
	}
	return f.state(submissionID, call)
}

func (f *fakeTransport) SolvedChallenges(ctx context.Context, gameID int64) ([]int64, error) {
	f.solvedCalls.Add(1)
	if f.solved == nil {
		return nil, fmt.Errorf("unexpected solved call")
	}
	return f.solved()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot(now time.Time) *GameSnapshot {
	return &GameSnapshot{
		ID:         1,
		Name:       "test ctf",
		StartTime:  now.Add(-time.Hour),
		EndTime:    now.Add(time.Hour),
		TeamStatus: ParticipationApproved,
		TeamInfo:   &TeamInfo{ID: 7, Name: "team", Score: 100, Rank: 3},
	}
}

// newIdleEngine builds an engine without starting its loop, for driving
// apply() directly.
func newIdleEngine() *Engine {
	return &Engine{
		log:           testLogger(),
		now:           time.Now,
		snapshot:      NewCell[GameSnapshot](),
		phase:         NewCell[Phase](),
		participation: NewCell[ParticipationStatus](),
		failures:      NewCell[int](),
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineAppliesSnapshot(t *testing.T) {
	now := time.Now()
	ft := &fakeTransport{
		snapshot: func(int64) (*GameSnapshot, error) { return testSnapshot(now), nil },
	}

	e := StartEngine(ft, 1, EngineOptions{
		Interval: 10 * time.Millisecond,
		Jitter:   time.Millisecond,
		Logger:   testLogger(),
	})
	defer e.Stop()

	waitFor(t, "snapshot", func() bool { _, ok := e.Snapshot().Get(); return ok })

	if phase, _ := e.Phase().Get(); phase != PhaseRunning {
		t.Errorf("phase = %v, want %v", phase, PhaseRunning)
	}
	if p, _ := e.Participation().Get(); p != ParticipationApproved {
		t.Errorf("participation = %v, want %v", p, ParticipationApproved)
	}
	if snap, _ := e.Snapshot().Get(); snap.TeamInfo == nil || snap.TeamInfo.Score != 100 {
		t.Errorf("snapshot team info not applied: %+v", snap.TeamInfo)
	}
}

func TestEngineDefaultsToUnLogin(t *testing.T) {
	block := make(chan struct{})
	ft := &fakeTransport{
		snapshot: func(int64) (*GameSnapshot, error) {
			<-block
			return nil, fmt.Errorf("blocked")
		},
	}
	e := StartEngine(ft, 1, EngineOptions{Interval: time.Hour, Jitter: time.Millisecond, Logger: testLogger()})
	defer func() { close(block); e.Stop() }()

	if p, ok := e.Participation().Get(); !ok || p != ParticipationUnLogin {
		t.Errorf("participation before first snapshot = %v (ok=%v), want %v", p, ok, ParticipationUnLogin)
	}
}

func TestEngineStaleResponseDiscarded(t *testing.T) {
	e := newIdleEngine()

	older := testSnapshot(time.Now())
	older.Name = "stale"
	newer := testSnapshot(time.Now())
	newer.Name = "fresh"

	id1 := e.seq.Add(1)
	id2 := e.seq.Add(1)

	// The newer request resolves first; the older one must be discarded.
	e.apply(id2, newer, nil)
	e.apply(id1, older, nil)

	snap, ok := e.Snapshot().Get()
	if !ok || snap.Name != "fresh" {
		t.Errorf("snapshot = %q (ok=%v), want %q", snap.Name, ok, "fresh")
	}
}

func TestEngineUnauthorizedStopsPolling(t *testing.T) {
	var redirects atomic.Int64
	ft := &fakeTransport{
		snapshot: func(int64) (*GameSnapshot, error) {
			return nil, fmt.Errorf("poll: %w", ErrUnauthorized)
		},
	}

	e := StartEngine(ft, 1, EngineOptions{
		Interval:       5 * time.Millisecond,
		Jitter:         time.Millisecond,
		Logger:         testLogger(),
		OnUnauthorized: func() { redirects.Add(1) },
	})

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after 401")
	}

	calls := ft.snapCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := ft.snapCalls.Load(); got != calls {
		t.Errorf("engine kept polling after 401: %d -> %d calls", calls, got)
	}
	if p, _ := e.Participation().Get(); p != ParticipationUnLogin {
		t.Errorf("participation = %v, want %v", p, ParticipationUnLogin)
	}
	if n := redirects.Load(); n != 1 {
		t.Errorf("redirect callback fired %d times, want 1", n)
	}
}

func TestEngineNotFoundTerminal(t *testing.T) {
	ft := &fakeTransport{
		snapshot: func(int64) (*GameSnapshot, error) {
			return nil, fmt.Errorf("poll: %w", ErrNotFound)
		},
	}

	e := StartEngine(ft, 99, EngineOptions{
		Interval: 5 * time.Millisecond,
		Jitter:   time.Millisecond,
		Logger:   testLogger(),
	})

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after 404")
	}

	if phase, _ := e.Phase().Get(); phase != PhaseNoSuchGame {
		t.Errorf("phase = %v, want %v", phase, PhaseNoSuchGame)
	}
}

func TestEngineTransientFailureKeepsStaleState(t *testing.T) {
	now := time.Now()
	ft := &fakeTransport{
		snapshot: func(call int64) (*GameSnapshot, error) {
			if call == 1 {
				return testSnapshot(now), nil
			}
			return nil, fmt.Errorf("connection refused")
		},
	}

	e := StartEngine(ft, 1, EngineOptions{
		Interval: 5 * time.Millisecond,
		Jitter:   time.Millisecond,
		Logger:   testLogger(),
	})
	defer e.Stop()

	waitFor(t, "consecutive failures", func() bool { n, _ := e.Failures().Get(); return n >= 2 })

	if snap, ok := e.Snapshot().Get(); !ok || snap.Name != "test ctf" {
		t.Errorf("stale snapshot was cleared: %+v (ok=%v)", snap, ok)
	}
	if phase, _ := e.Phase().Get(); phase != PhaseRunning {
		t.Errorf("phase flipped on transient failure: %v", phase)
	}
	if p, _ := e.Participation().Get(); p != ParticipationApproved {
		t.Errorf("participation flipped on transient failure: %v", p)
	}
}

func TestEngineFailureCountResetsOnSuccess(t *testing.T) {
	e := newIdleEngine()
	snap := testSnapshot(time.Now())

	e.apply(e.seq.Add(1), nil, fmt.Errorf("timeout"))
	e.apply(e.seq.Add(1), nil, fmt.Errorf("timeout"))
	if n, _ := e.Failures().Get(); n != 2 {
		t.Fatalf("failures = %d, want 2", n)
	}

	e.apply(e.seq.Add(1), snap, nil)
	if n, _ := e.Failures().Get(); n != 0 {
		t.Errorf("failures = %d after success, want 0", n)
	}
}

func TestEnginePhaseAdvancesOnUnchangedSnapshot(t *testing.T) {
	e := newIdleEngine()
	start := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	snap := &GameSnapshot{
		ID:         1,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		TeamStatus: ParticipationApproved,
	}

	snapshotNotifies := 0
	e.Snapshot().Subscribe(func(GameSnapshot) { snapshotNotifies++ })

	e.now = func() time.Time { return start.Add(time.Minute) }
	e.apply(e.seq.Add(1), snap, nil)
	if phase, _ := e.Phase().Get(); phase != PhaseRunning {
		t.Fatalf("phase = %v, want %v", phase, PhaseRunning)
	}

	// Identical snapshot, but the clock crossed the end boundary.
	e.now = func() time.Time { return start.Add(2 * time.Hour) }
	e.apply(e.seq.Add(1), snap, nil)

	if phase, _ := e.Phase().Get(); phase != PhaseEnded {
		t.Errorf("phase = %v, want %v", phase, PhaseEnded)
	}
	if snapshotNotifies != 1 {
		t.Errorf("unchanged snapshot notified %d times, want 1", snapshotNotifies)
	}
}

func TestEngineEmptyTeamStatus(t *testing.T) {
	e := newIdleEngine()
	snap := testSnapshot(time.Now())
	snap.TeamStatus = ""
	snap.TeamInfo = nil

	e.apply(e.seq.Add(1), snap, nil)

	if p, _ := e.Participation().Get(); p != ParticipationUnRegistered {
		t.Errorf("participation = %v, want %v", p, ParticipationUnRegistered)
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	ft := &fakeTransport{
		snapshot: func(int64) (*GameSnapshot, error) { return testSnapshot(time.Now()), nil },
	}
	e := StartEngine(ft, 1, EngineOptions{Interval: 10 * time.Millisecond, Jitter: time.Millisecond, Logger: testLogger()})

	e.Stop()
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not exit after Stop")
	}
}

func TestEngineJitterBounds(t *testing.T) {
	e := newIdleEngine()
	e.interval = 4 * time.Second
	e.jitter = 2 * time.Second

	for i := 0; i < 1000; i++ {
		d := e.nextInterval()
		if d < e.interval-e.jitter || d > e.interval+e.jitter {
			t.Fatalf("interval %v outside [%v, %v]", d, e.interval-e.jitter, e.interval+e.jitter)
		}
	}
}
