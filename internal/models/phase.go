package models

import "time"

// Phase is a state of the per-target scrape loop
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseNavigating  Phase = "navigating"
	PhaseInteracting Phase = "interacting"
	PhaseExtracting  Phase = "extracting"
	PhaseSuccess     Phase = "success"
	PhaseEmpty       Phase = "empty"
	PhaseError       Phase = "error"
	PhaseBackoff     Phase = "backoff"
	PhaseCooldown    Phase = "cooldown"
	PhaseStopped     Phase = "stopped"
)

// AllPhases lists every loop phase in declaration order
func AllPhases() []Phase {
	return []Phase{
		PhaseStarting, PhaseNavigating, PhaseInteracting, PhaseExtracting,
		PhaseSuccess, PhaseEmpty, PhaseError, PhaseBackoff, PhaseCooldown, PhaseStopped,
	}
}

// IsValid reports whether p is a known phase
func (p Phase) IsValid() bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// String returns the phase name
func (p Phase) String() string {
	return string(p)
}

// StatusUpdate reports a loop phase transition
type StatusUpdate struct {
	TargetID          string    `json:"target_id"`
	Phase             Phase     `json:"phase"`
	Message           string    `json:"message,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Timestamp         time.Time `json:"timestamp"`
}
