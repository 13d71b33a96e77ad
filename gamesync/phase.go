package gamesync

import "time"

// DerivePhase maps an instant to the competition phase. Boundaries are closed
// on the lower end and open on the upper: now == start is Running, now == end
// is Ended. Practice mode overrides Ended, but only strictly after the
// competition's own end, and once entered there is no way back to Ended.
//
// PhaseNoSuchGame is never returned here; it is injected by the engine when
// the transport reports the game id does not exist.
func DerivePhase(now, start, end time.Time, practice bool) Phase {
	switch {
	case practice && now.After(end):
		return PhasePractice
	case now.Before(start):
		return PhasePending
	case now.Before(end):
		return PhaseRunning
	default:
		return PhaseEnded
	}
}

// SnapshotPhase derives the phase of a snapshot at the given instant.
func SnapshotPhase(snap *GameSnapshot, now time.Time) Phase {
	return DerivePhase(now, snap.StartTime, snap.EndTime, snap.PracticeMode)
}
