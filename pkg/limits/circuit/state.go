package circuit

import "time"

func closedState(providerID string) State {
	return State{ProviderID: providerID, Status: StatusClosed}
}

// NextState applies the time-based transitions to s as of now.
//
// An open circuit whose cool-down has elapsed becomes half_open with a fresh
// set of trial slots. A half_open circuit whose trial slots were all claimed
// one cool-down ago without an outcome gets its slots back.
func NextState(s State, now time.Time, settings Settings) State {
	settings = settings.withDefaults()
	coolDown := s.CoolDown
	if coolDown <= 0 {
		coolDown = settings.CoolDown
	}

	switch s.Status {
	case StatusOpen:
		if !now.Before(s.OpenedAt.Add(coolDown)) {
			s.Status = StatusHalfOpen
			s.HalfOpenAt = now
			s.TrialsRemaining = settings.HalfOpenTrials
			s.CoolDown = coolDown
		}
	case StatusHalfOpen:
		if s.TrialsRemaining == 0 && !now.Before(s.HalfOpenAt.Add(coolDown)) {
			s.HalfOpenAt = now
			s.TrialsRemaining = settings.HalfOpenTrials
			s.CoolDown = coolDown
		}
	case "":
		s.Status = StatusClosed
	}
	return s
}

// applyOutcome returns the state after an outcome report and whether it changed.
func applyOutcome(s State, success bool, now time.Time, settings Settings) (State, bool) {
	settings = settings.withDefaults()

	switch s.Status {
	case StatusClosed:
		if success {
			if s.ConsecutiveFailures == 0 {
				return s, false
			}
			s.ConsecutiveFailures = 0
			return s, true
		}
		s.ConsecutiveFailures++
		s.LastFailureAt = now
		if s.ConsecutiveFailures >= settings.TripThreshold {
			s.Status = StatusOpen
			s.OpenedAt = now
			s.CoolDown = settings.CoolDown
			s.FailedCycles = 0
			s.TrialsRemaining = 0
		}
		return s, true

	case StatusHalfOpen:
		if success {
			return closedState(s.ProviderID), true
		}
		s.Status = StatusOpen
		s.ConsecutiveFailures++
		s.LastFailureAt = now
		s.OpenedAt = now
		s.FailedCycles++
		s.TrialsRemaining = 0
		s.CoolDown = min(max(s.CoolDown, settings.CoolDown)*2, settings.MaxCoolDown)
		return s, true

	case StatusOpen:
		// Outcomes of calls admitted before the circuit opened.
		if success {
			return s, false
		}
		s.ConsecutiveFailures++
		s.LastFailureAt = now
		return s, true
	}
	return s, false
}
