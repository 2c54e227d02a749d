package orchestrator

import (
	"errors"
	"time"

	"vault-gate/policy"
	"vault-gate/probes"
)

// Phase is where a step is in its check cycle.
type Phase string

const (
	PhaseUnchecked  Phase = "unchecked"
	PhaseChecking   Phase = "checking"
	PhaseVerified   Phase = "verified"
	PhaseUnverified Phase = "unverified"
)

var (
	ErrUnknownStep       = errors.New("unknown verification step")
	ErrStepNotRequired   = errors.New("step is not required for this vault")
	ErrClickThrough      = errors.New("click-through steps are confirmed, not checked")
	ErrNotClickThrough   = errors.New("only click-through steps can be confirmed")
	ErrLocked            = errors.New("step is locked until its prerequisite is verified")
	ErrInFlight          = errors.New("a check for this step is already running")
	ErrIdentityConflict  = errors.New("twitter account is linked to another wallet")
	ErrStepsIncomplete   = errors.New("not every required step is verified")
	ErrFollowNotVerified = errors.New("follow step is not verified")
	ErrClosed            = errors.New("orchestrator is closed")
)

// StepState is the observable state of one step.
type StepState struct {
	Step       policy.StepKind    `json:"step"`
	Phase      Phase              `json:"phase"`
	Err        *probes.ProbeError `json:"error,omitempty"`
	Message    string             `json:"message,omitempty"`
	Optimistic bool               `json:"optimistic,omitempty"`
	// Locked is set while the step's prerequisite is not verified.
	Locked    bool      `json:"locked,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the orchestrator's full state at one instant.
type Snapshot struct {
	VaultID          string      `json:"vaultId"`
	Steps            []StepState `json:"steps"`
	AllStepsComplete bool        `json:"allStepsComplete"`
	CreditsAwarded   bool        `json:"creditsAwarded"`
	IdentityConflict bool        `json:"identityConflict"`
	LastAward        *Award      `json:"lastAward,omitempty"`
	RewardError      string      `json:"rewardError,omitempty"`
}

// Step returns the state for step and whether the vault requires it.
func (s Snapshot) Step(step policy.StepKind) (StepState, bool) {
	for _, st := range s.Steps {
		if st.Step == step {
			return st, true
		}
	}
	return StepState{}, false
}

func userMessage(err *probes.ProbeError) string {
	if err == nil {
		return "Not found yet. Complete the task and check again."
	}
	switch err.Kind {
	case probes.KindAuthRequired:
		return "Connect your X account to continue."
	case probes.KindAuthExpired:
		return "Your X session expired. Reconnect and try again."
	case probes.KindRateLimited:
		return "X is rate limiting checks. Try again shortly."
	case probes.KindIdentityConflict:
		return "This X account is already linked to another wallet. Reset to continue."
	case probes.KindNetwork, probes.KindTimeout:
		return "Could not reach X. Try again shortly."
	case probes.KindNotFound:
		return "We could not find that on X."
	}
	return err.Message
}
