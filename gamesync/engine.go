package gamesync

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// EngineOptions tune a sync engine. The zero value is usable.
type EngineOptions struct {
	// Interval between polls. Default 4s.
	Interval time.Duration

	// Jitter spreads each tick uniformly over [Interval-Jitter, Interval+Jitter]
	// so many clients starting together do not hit the server in lockstep.
	// Default 2s, clamped below Interval.
	Jitter time.Duration

	// OnUnauthorized fires at most once, when a poll comes back 401. The UI
	// collaborator uses it to redirect to login. Called without engine locks.
	OnUnauthorized func()

	Logger *slog.Logger

	// Now overrides the clock used for phase derivation. Tests only.
	Now func() time.Time
}

// Engine owns the polling loop for one game id. It is the sole writer of the
// snapshot, phase, participation and failure cells; everything else consumes
// them read-only.
type Engine struct {
	transport Transport
	gameID    int64
	interval  time.Duration
	jitter    time.Duration
	log       *slog.Logger
	now       func() time.Time

	snapshot      *Cell[GameSnapshot]
	phase         *Cell[Phase]
	participation *Cell[ParticipationStatus]
	failures      *Cell[int]

	onUnauthorized func()
	redirectOnce   sync.Once

	// seq is the monotonic id of the newest issued fetch. A response applies
	// only while its id is still the newest; anything older is discarded so a
	// slow response can never clobber cells with stale data.
	seq       atomic.Uint64
	applyMu   sync.Mutex
	failCount int

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// StartEngine begins polling immediately and returns the running engine.
// Stop must be called on consumer teardown; an abandoned engine keeps firing
// network requests.
func StartEngine(transport Transport, gameID int64, opts EngineOptions) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 4 * time.Second
	}
	if opts.Jitter == 0 {
		opts.Jitter = 2 * time.Second
	}
	if opts.Jitter >= opts.Interval {
		opts.Jitter = opts.Interval / 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		transport:      transport,
		gameID:         gameID,
		interval:       opts.Interval,
		jitter:         opts.Jitter,
		log:            opts.Logger.With("game_id", gameID),
		now:            opts.Now,
		snapshot:       NewCell[GameSnapshot](),
		phase:          NewCell[Phase](),
		participation:  NewCell[ParticipationStatus](),
		failures:       NewCell[int](),
		onUnauthorized: opts.OnUnauthorized,
		stopped:        make(chan struct{}),
		done:           make(chan struct{}),
	}

	// Before any snapshot is obtained the session is treated as logged out.
	e.participation.Set(ParticipationUnLogin)

	go e.run()
	return e
}

// Snapshot is the last successfully fetched game state.
func (e *Engine) Snapshot() *Cell[GameSnapshot] { return e.snapshot }

// Phase is the derived competition phase.
func (e *Engine) Phase() *Cell[Phase] { return e.phase }

// Participation is the team's standing in this game.
func (e *Engine) Participation() *Cell[ParticipationStatus] { return e.participation }

// Failures is the count of consecutive transient poll failures, reset to zero
// on success. How many to tolerate before surfacing an error is the
// consumer's call.
func (e *Engine) Failures() *Cell[int] { return e.failures }

// Stop halts the polling loop. Idempotent. An in-flight request is not
// cancelled; its response is discarded on arrival.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Done is closed once the polling loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) run() {
	defer close(e.done)

	e.pollOnce()
	timer := time.NewTimer(e.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-e.stopped:
			return
		case <-timer.C:
			e.pollOnce()
			timer.Reset(e.nextInterval())
		}
	}
}

func (e *Engine) nextInterval() time.Duration {
	if e.jitter <= 0 {
		return e.interval
	}
	return e.interval - e.jitter + rand.N(2*e.jitter)
}

func (e *Engine) pollOnce() {
	id := e.seq.Add(1)
	go func() {
		snap, err := e.transport.GameSnapshot(context.Background(), e.gameID)
		e.apply(id, snap, err)
	}()
}

func (e *Engine) apply(id uint64, snap *GameSnapshot, err error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	if id != e.seq.Load() {
		e.log.Debug("discarding stale poll response", "seq", id)
		return
	}
	select {
	case <-e.stopped:
		return
	default:
	}

	switch {
	case err == nil:
		e.failCount = 0
		e.failures.Set(0)
		e.snapshot.Set(*snap)
		e.phase.Set(SnapshotPhase(snap, e.now()))
		status := snap.TeamStatus
		if status == "" {
			status = ParticipationUnRegistered
		}
		e.participation.Set(status)

	case errors.Is(err, ErrUnauthorized):
		// Session expired: downgrade and stop, there is no point polling
		// while logged out. Recovery is re-authentication, never a retry.
		e.log.Info("session expired, stopping poll loop")
		e.participation.Set(ParticipationUnLogin)
		e.Stop()
		if e.onUnauthorized != nil {
			e.redirectOnce.Do(e.onUnauthorized)
		}

	case errors.Is(err, ErrNotFound):
		// Terminal: the game id is invalid, retrying cannot help.
		e.log.Warn("game not found, stopping poll loop")
		e.phase.Set(PhaseNoSuchGame)
		e.Stop()

	default:
		// Transient. Keep stale cells visible rather than flashing an error
		// state; the fixed interval is the backoff.
		e.failCount++
		e.failures.Set(e.failCount)
		e.log.Debug("poll failed, keeping stale state", "consecutive", e.failCount, "err", err)
	}
}
