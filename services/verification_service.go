package services

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"vault-gate/models"
	"vault-gate/probes"
)

// Prober runs the remote verification probes. *probes.Prober implements it.
type Prober interface {
	CheckFollow(ctx context.Context, subjectID, targetID string) probes.Verdict
	CheckRetweet(ctx context.Context, subjectID, content string) probes.Verdict
	CheckLike(ctx context.Context, subjectID, tweetID string) probes.Verdict
	CheckTweet(ctx context.Context, subjectID, content string) probes.Verdict
}

// VerificationService exposes the probes over HTTP.
type VerificationService struct {
	Prober     Prober
	Identities *IdentityService
	Log        *zap.Logger
}

func NewVerificationService(p Prober, identities *IdentityService, log *zap.Logger) *VerificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VerificationService{Prober: p, Identities: identities, Log: log}
}

func conflictVerdict() probes.Verdict {
	return probes.Verdict{Error: &probes.ProbeError{
		Kind:    probes.KindIdentityConflict,
		Message: ErrIdentityConflict.Error(),
	}}
}

// guard runs the identity-conflict check when the request names a wallet.
// It returns a verdict to answer with, or nil to continue probing.
func (s *VerificationService) guard(c *fiber.Ctx, subject string) *probes.Verdict {
	wallet := models.CanonicalWallet(c.Query("wallet", walletFromContext(c)))
	if wallet == "" || s.Identities == nil {
		return nil
	}
	conflict, err := s.Identities.CheckConflict(c.UserContext(), subject, wallet)
	if err != nil {
		s.Log.Error("[VERIFY] identity check failed", zap.String("user", subject), zap.Error(err))
		v := probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindNetwork, Message: "identity check unavailable"}}
		return &v
	}
	if conflict {
		v := conflictVerdict()
		return &v
	}
	return nil
}

type probeFunc func(ctx context.Context, subject, target string) probes.Verdict

func (s *VerificationService) serve(c *fiber.Ctx, name, targetParam string, run probeFunc) error {
	subject := strings.TrimSpace(c.Query("user"))
	target := c.Query(targetParam)
	if subject == "" || strings.TrimSpace(target) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user and " + targetParam + " are required",
		})
	}
	if v := s.guard(c, subject); v != nil {
		return c.JSON(v)
	}
	v := run(c.UserContext(), subject, target)
	s.Log.Debug("[VERIFY] probe finished",
		zap.String("probe", name), zap.String("user", subject), zap.Bool("verified", v.Verified), zap.Bool("optimistic", v.Optimistic))
	return c.JSON(v)
}

// CheckFollow handles GET /verify/twitter/follow?user=&target=.
func (s *VerificationService) CheckFollow(c *fiber.Ctx) error {
	return s.serve(c, probes.ProbeFollow, "target", s.Prober.CheckFollow)
}

// CheckRetweet handles GET /verify/twitter/retweet?user=&content=.
func (s *VerificationService) CheckRetweet(c *fiber.Ctx) error {
	return s.serve(c, probes.ProbeRetweet, "content", s.Prober.CheckRetweet)
}

// CheckLike handles GET /verify/twitter/like?user=&target=.
func (s *VerificationService) CheckLike(c *fiber.Ctx) error {
	return s.serve(c, probes.ProbeLike, "target", s.Prober.CheckLike)
}

// CheckTweet handles GET /verify/twitter/tweet?user=&content=.
func (s *VerificationService) CheckTweet(c *fiber.Ctx) error {
	return s.serve(c, probes.ProbeTweet, "content", s.Prober.CheckTweet)
}
