// Package ledger keeps the device-local record of which verification steps a
// user has completed for each vault. It is a cache: the reward gate on the
// server stays authoritative.
package ledger

import (
	"context"
	"time"

	"vault-gate/policy"
)

// Record is the per-vault verification state.
type Record struct {
	VaultID            string                        `json:"vaultId"`
	Steps              map[policy.StepKind]bool      `json:"steps"`
	StepTimestamps     map[policy.StepKind]time.Time `json:"stepTimestamps"`
	CreditsAwarded     bool                          `json:"creditsAwarded"`
	CreditsAwardedAt   *time.Time                    `json:"creditsAwardedAt,omitempty"`
	AllStepsVerified   bool                          `json:"allStepsVerified"`
	AllStepsVerifiedAt *time.Time                    `json:"allStepsVerifiedAt,omitempty"`
	CreatedAt          time.Time                     `json:"createdAt"`
	UpdatedAt          time.Time                     `json:"updatedAt"`
}

// Step reports whether step is recorded as done.
func (r *Record) Step(step policy.StepKind) bool {
	if r == nil {
		return false
	}
	return r.Steps[step]
}

// Patch is a partial update. Nil fields and absent step keys leave the stored
// value untouched.
type Patch struct {
	Steps            map[policy.StepKind]bool
	CreditsAwarded   *bool
	AllStepsVerified *bool
}

// StepDone is a Patch that marks one step complete.
func StepDone(step policy.StepKind) Patch {
	return Patch{Steps: map[policy.StepKind]bool{step: true}}
}

// Bool returns a pointer to v for Patch fields.
func Bool(v bool) *bool { return &v }

// Store persists Records by vault id.
type Store interface {
	// Get returns nil, nil when the vault has no record.
	Get(ctx context.Context, vaultID string) (*Record, error)
	// Update merges p into the stored record, creating it when absent.
	Update(ctx context.Context, vaultID string, p Patch) (*Record, error)
	Delete(ctx context.Context, vaultID string) error
	// ClearSteps drops the given steps from the record. The aggregate
	// allStepsVerified flag is cleared with them.
	ClearSteps(ctx context.Context, vaultID string, steps ...policy.StepKind) (*Record, error)
}

func newRecord(vaultID string, now time.Time) *Record {
	return &Record{
		VaultID:        vaultID,
		Steps:          make(map[policy.StepKind]bool),
		StepTimestamps: make(map[policy.StepKind]time.Time),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// apply merges p into r. Only flags whose value changes get a new timestamp.
func apply(r *Record, p Patch, now time.Time) {
	if r.Steps == nil {
		r.Steps = make(map[policy.StepKind]bool)
	}
	if r.StepTimestamps == nil {
		r.StepTimestamps = make(map[policy.StepKind]time.Time)
	}
	for step, done := range p.Steps {
		if prev, present := r.Steps[step]; present && prev == done {
			continue
		}
		r.Steps[step] = done
		r.StepTimestamps[step] = now
	}
	if p.CreditsAwarded != nil && *p.CreditsAwarded != r.CreditsAwarded {
		r.CreditsAwarded = *p.CreditsAwarded
		r.CreditsAwardedAt = stamp(r.CreditsAwarded, now)
	}
	if p.AllStepsVerified != nil && *p.AllStepsVerified != r.AllStepsVerified {
		r.AllStepsVerified = *p.AllStepsVerified
		r.AllStepsVerifiedAt = stamp(r.AllStepsVerified, now)
	}
	r.UpdatedAt = now
}

func clearSteps(r *Record, steps []policy.StepKind, now time.Time) {
	for _, s := range steps {
		delete(r.Steps, s)
		delete(r.StepTimestamps, s)
	}
	r.AllStepsVerified = false
	r.AllStepsVerifiedAt = nil
	r.UpdatedAt = now
}

func stamp(set bool, now time.Time) *time.Time {
	if !set {
		return nil
	}
	t := now
	return &t
}
