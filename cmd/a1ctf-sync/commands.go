package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/miaoaixuan/a1ctf-sync/gamesync"
)

// failureWarnThreshold is how many consecutive transient poll failures to
// tolerate before telling the user. The engine only counts; surfacing is the
// consumer's decision.
const failureWarnThreshold = 3

var watchedModules = []gamesync.Module{
	gamesync.ModuleChallenges,
	gamesync.ModuleScoreboard,
	gamesync.ModuleTeam,
	gamesync.ModuleInfo,
}

type cliHost struct {
	transport gamesync.Transport
	role      gamesync.Role
	interval  time.Duration
	log       *slog.Logger
}

func (h *cliHost) startEngine(gameID int64) *gamesync.Engine {
	return gamesync.StartEngine(h.transport, gameID, gamesync.EngineOptions{
		Interval: h.interval,
		Logger:   h.log,
		OnUnauthorized: func() {
			fmt.Println("Session expired; log in again.")
		},
	})
}

func (h *cliHost) runWatch(ctx context.Context, gameID int64) error {
	e := h.startEngine(gameID)
	defer e.Stop()

	fmt.Printf("Watching game %d (interval %v). Ctrl-C to stop.\n", gameID, h.interval)

	e.Phase().Subscribe(func(p gamesync.Phase) {
		fmt.Printf("phase: %s\n", p)
		h.printModuleLine(e)
	})
	e.Participation().Subscribe(func(p gamesync.ParticipationStatus) {
		fmt.Printf("participation: %s\n", p)
		h.printModuleLine(e)
	})
	e.Snapshot().Subscribe(func(s gamesync.GameSnapshot) {
		if s.TeamInfo != nil {
			fmt.Printf("team: %s score=%.0f rank=%d\n", s.TeamInfo.Name, s.TeamInfo.Score, s.TeamInfo.Rank)
		}
	})
	e.Failures().Subscribe(func(n int) {
		if n == failureWarnThreshold {
			fmt.Printf("warning: %d polls failed in a row, showing last known state\n", n)
		}
	})

	select {
	case <-ctx.Done():
		return nil
	case <-e.Done():
		// The engine stops itself only on terminal conditions.
		if phase, _ := e.Phase().Get(); phase == gamesync.PhaseNoSuchGame {
			return fmt.Errorf("no such game: %d", gameID)
		}
		return nil
	}
}

func (h *cliHost) printModuleLine(e *gamesync.Engine) {
	phase, _ := e.Phase().Get()
	participation, _ := e.Participation().Get()
	line := "modules:"
	for _, m := range watchedModules {
		mark := "-"
		if gamesync.AccessGate(phase, participation, h.role, m) {
			mark = "+"
		}
		line += fmt.Sprintf(" %s%s", mark, m)
	}
	fmt.Println(line)
}

func (h *cliHost) runStatus(ctx context.Context, gameID int64) error {
	snap, err := h.transport.GameSnapshot(ctx, gameID)
	switch {
	case errors.Is(err, gamesync.ErrNotFound):
		return fmt.Errorf("no such game: %d", gameID)
	case errors.Is(err, gamesync.ErrUnauthorized):
		return fmt.Errorf("not logged in")
	case err != nil:
		return err
	}

	now := time.Now()
	phase := gamesync.SnapshotPhase(snap, now)
	participation := snap.TeamStatus
	if participation == "" {
		participation = gamesync.ParticipationUnRegistered
	}

	fmt.Printf("Game:          %s (#%d)\n", snap.Name, snap.ID)
	fmt.Printf("Start:         %s\n", snap.StartTime.Local().Format(time.RFC1123))
	fmt.Printf("End:           %s\n", snap.EndTime.Local().Format(time.RFC1123))
	fmt.Printf("Practice mode: %v\n", snap.PracticeMode)
	fmt.Printf("Phase:         %s\n", phase)
	fmt.Printf("Participation: %s\n", participation)
	if snap.TeamInfo != nil {
		fmt.Printf("Team:          %s score=%.0f rank=%d\n", snap.TeamInfo.Name, snap.TeamInfo.Score, snap.TeamInfo.Rank)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MODULE\tACCESS")
	for _, m := range watchedModules {
		access := "no"
		if gamesync.AccessGate(phase, participation, h.role, m) {
			access = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\n", m, access)
	}
	return w.Flush()
}

func (h *cliHost) runSubmit(ctx context.Context, gameID, challengeID int64, flag string) error {
	e := h.startEngine(gameID)
	defer e.Stop()

	if err := h.awaitFirstSnapshot(ctx, e); err != nil {
		return err
	}

	submitter := gamesync.NewSubmitter(h.transport, gameID, e.Phase(), e.Participation(), h.role, gamesync.SubmitterOptions{
		Logger: h.log,
	})
	if err := submitter.SeedSolved(ctx); err != nil {
		h.log.Debug("could not seed solved set", "err", err)
	} else if solved, _ := submitter.Solved().Get(); solved[challengeID].Solved {
		fmt.Printf("Note: challenge %d is already solved.\n", challengeID)
	}

	fmt.Printf("Submitting flag for challenge %d...\n", challengeID)
	attempt, err := submitter.Submit(ctx, challengeID, flag)
	switch {
	case errors.Is(err, gamesync.ErrSubmissionClosed):
		phase, _ := e.Phase().Get()
		participation, _ := e.Participation().Get()
		return fmt.Errorf("submission not permitted (phase %s, participation %s)", phase, participation)
	case err != nil:
		return err
	}

	sub, err := attempt.Wait(ctx)
	if err != nil {
		return err
	}

	switch sub.State {
	case gamesync.VerdictAccepted:
		fmt.Println("Correct!")
		return nil
	case gamesync.VerdictWrongAnswer:
		fmt.Println("Incorrect.")
		return fmt.Errorf("flag rejected")
	default:
		return fmt.Errorf("submission did not resolve to a verdict")
	}
}

// awaitFirstSnapshot blocks until the engine has real state to gate against.
func (h *cliHost) awaitFirstSnapshot(ctx context.Context, e *gamesync.Engine) error {
	snapCh := make(chan struct{}, 1)
	cancel := e.Snapshot().Subscribe(func(gamesync.GameSnapshot) {
		select {
		case snapCh <- struct{}{}:
		default:
		}
	})
	defer cancel()

	if _, ok := e.Snapshot().Get(); ok {
		return nil
	}

	select {
	case <-snapCh:
		return nil
	case <-e.Done():
		if phase, _ := e.Phase().Get(); phase == gamesync.PhaseNoSuchGame {
			return fmt.Errorf("no such game")
		}
		return fmt.Errorf("not logged in")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *cliHost) runSolved(ctx context.Context, gameID int64) error {
	ids, err := h.transport.SolvedChallenges(ctx, gameID)
	switch {
	case errors.Is(err, gamesync.ErrNotFound):
		return fmt.Errorf("no such game: %d", gameID)
	case errors.Is(err, gamesync.ErrUnauthorized):
		return fmt.Errorf("not logged in")
	case err != nil:
		return err
	}

	if len(ids) == 0 {
		fmt.Println("No solved challenges.")
		return nil
	}
	fmt.Printf("Solved challenges (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %d\n", id)
	}
	return nil
}
