// probes/verdict.go
package probes

import (
	"fmt"
	"time"
)

// ErrorKind classifies why a probe or the reward gate could not produce a
// clean verdict.
type ErrorKind string

const (
	KindAuthRequired     ErrorKind = "auth_required"
	KindAuthExpired      ErrorKind = "auth_expired"
	KindRateLimited      ErrorKind = "rate_limited"
	KindIdentityConflict ErrorKind = "identity_conflict"
	KindNetwork          ErrorKind = "network_error"
	KindTimeout          ErrorKind = "timeout"
	KindNotFound         ErrorKind = "not_found"
	KindAlreadyAwarded   ErrorKind = "already_awarded"
)

// Transient reports whether an error of this kind may clear on its own.
// Identity conflicts need the user to reset; an award that already happened
// is final.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindIdentityConflict, KindAlreadyAwarded:
		return false
	}
	return true
}

// ProbeError is carried inside a Verdict. Probes never return it as a Go error.
type ProbeError struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

func (e *ProbeError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newProbeError(kind ErrorKind, format string, args ...any) *ProbeError {
	return &ProbeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Verdict is the reduced outcome of one probe call.
type Verdict struct {
	Verified bool        `json:"verified"`
	Detail   any         `json:"detail,omitempty"`
	Error    *ProbeError `json:"error,omitempty"`
	// Optimistic marks a verdict that assumed success because the upstream
	// answer was ambiguous.
	Optimistic bool `json:"optimistic,omitempty"`
}

// Failed reports whether the verdict carries an error.
func (v Verdict) Failed() bool { return v.Error != nil }

func verified(detail any) Verdict   { return Verdict{Verified: true, Detail: detail} }
func unverified(detail any) Verdict { return Verdict{Verified: false, Detail: detail} }

func failed(err *ProbeError) Verdict { return Verdict{Error: err} }

func optimistic(reason string) Verdict {
	return Verdict{Verified: true, Optimistic: true, Detail: map[string]string{"assumed": reason}}
}

// MatchDetail records which endpoint, post and strategy produced a match.
type MatchDetail struct {
	Endpoint string   `json:"endpoint"`
	TweetID  string   `json:"tweetId"`
	Strategy Strategy `json:"strategy"`
}
