package gamesync

// AccessGate decides whether a UI module is reachable under the given phase,
// participation status and role. Pure function; safe to call on every render.
// Admins bypass all gates.
//
// Approved is the only status permitting challenge interaction; banned teams
// keep read-only scoreboard access but nothing else.
func AccessGate(phase Phase, participation ParticipationStatus, role Role, module Module) bool {
	if role == RoleAdmin {
		return true
	}

	live := phase == PhaseRunning || phase == PhasePractice

	switch module {
	case ModuleChallenges:
		return live && participation == ParticipationApproved
	case ModuleScoreboard:
		return live || phase == PhaseEnded ||
			participation == ParticipationUnLogin || participation == ParticipationBanned
	case ModuleTeam:
		return participation != ParticipationUnLogin
	case ModuleInfo:
		return true
	default:
		return false
	}
}
