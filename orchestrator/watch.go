package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vault-gate/policy"
)

// chains groups the required Twitter steps so that a step and the steps
// locked behind it run in order. Independent chains run concurrently.
func (o *Orchestrator) chains() [][]policy.StepKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out [][]policy.StepKind
	index := make(map[policy.StepKind]int)
	for _, step := range o.cfg.Policy.RequiredSteps.Ordered() {
		if !step.IsTwitter() {
			continue
		}
		if pre, ok := step.Prerequisite(); ok {
			if i, found := index[pre]; found {
				out[i] = append(out[i], step)
				index[step] = i
				continue
			}
		}
		index[step] = len(out)
		out = append(out, []policy.StepKind{step})
	}
	return out
}

// CheckAll probes every required Twitter step that is not verified yet.
// Per-step refusals (in flight, locked, conflict) are not errors here; only
// cancellation and Close are returned. When the follow step is verified but
// the bonus is not recorded, the reward gate is asked again.
func (o *Orchestrator) CheckAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range o.chains() {
		g.Go(func() error {
			for _, step := range chain {
				st, err := o.CheckStep(gctx, step)
				switch {
				case errors.Is(err, ErrClosed):
					return err
				case gctx.Err() != nil:
					return gctx.Err()
				case err != nil:
					o.log.Debug("[ORCH] step skipped", zap.String("step", string(step)), zap.Error(err))
					return nil
				case st.Phase != PhaseVerified:
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.mu.Lock()
	slot, ok := o.slots[policy.StepTwitterFollow]
	retry := ok && slot.state.Phase == PhaseVerified && !o.creditsAwarded && !o.closed
	o.mu.Unlock()
	if retry {
		if _, err := o.ClaimReward(ctx); err != nil {
			o.log.Warn("[ORCH] reward claim failed", zap.Error(err))
		}
	}
	return ctx.Err()
}

// probesDone reports whether every required Twitter step is verified.
func (o *Orchestrator) probesDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for step, slot := range o.slots {
		if step.IsTwitter() && slot.state.Phase != PhaseVerified {
			return false
		}
	}
	return true
}

// Watch re-runs CheckAll every interval until all Twitter steps are
// verified. It stops early on an identity conflict, which needs a Reset.
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration) error {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := o.CheckAll(ctx); err != nil {
			return err
		}
		if o.probesDone() {
			return nil
		}
		o.mu.Lock()
		conflict := o.identityConflict
		o.mu.Unlock()
		if conflict {
			return ErrIdentityConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}
