package orchestrator

import (
	"context"

	"vault-gate/probes"
)

// Verifier runs the remote checks for one wallet. The gate server's HTTP API
// (apiclient.Client) is the production implementation.
type Verifier interface {
	CheckFollow(ctx context.Context, subjectID, targetID string) probes.Verdict
	CheckRetweet(ctx context.Context, subjectID, content string) probes.Verdict
	CheckLike(ctx context.Context, subjectID, tweetID string) probes.Verdict
	CheckTweet(ctx context.Context, subjectID, content string) probes.Verdict

	// IdentityConflict reports whether twitterID is linked to a wallet other than wallet.
	IdentityConflict(ctx context.Context, twitterID, wallet string) (bool, error)
	// LinkIdentity returns ErrIdentityConflict when the account belongs to another wallet.
	LinkIdentity(ctx context.Context, wallet, twitterID, username string) error
	RecordFollow(ctx context.Context, wallet, targetID string) error
}

// Award is the reward gate's answer.
type Award struct {
	Success        bool  `json:"success"`
	CreditsAwarded int64 `json:"creditsAwarded"`
	AlreadyAwarded bool  `json:"alreadyAwarded,omitempty"`
}

// Granted reports whether the wallet now holds the bonus for the vault.
func (a Award) Granted() bool { return a.Success || a.AlreadyAwarded }

// Rewarder calls the reward issuance gate.
type Rewarder interface {
	AwardFreeCredits(ctx context.Context, vaultID, wallet string, completedTasks int) (Award, error)
}
