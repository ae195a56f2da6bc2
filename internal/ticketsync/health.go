package ticketsync

import "time"

type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

type HealthPolicy struct {
	DownWindow       time.Duration
	DownFailures     int
	RecoverSuccesses int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		DownWindow:       30 * time.Second,
		DownFailures:     3,
		RecoverSuccesses: 2,
	}
}

type HealthState struct {
	Current              Health
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth folds one refresh outcome into state.
func NextHealth(policy HealthPolicy, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = HealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if state.Current != HealthOK && state.ConsecutiveSuccesses >= policy.RecoverSuccesses {
			state.Current = HealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case HealthOK:
		state.Current = HealthDegraded
		state.LastTransitionAt = now
	case HealthDegraded:
		if policy.DownWindow > 0 && now.Sub(state.LastTransitionAt) > policy.DownWindow {
			// window expired; this failure opens a new one
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= policy.DownFailures {
			state.Current = HealthDown
			state.LastTransitionAt = now
		}
	case HealthDown:
	}
	return state
}
