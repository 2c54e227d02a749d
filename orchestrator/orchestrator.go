// Package orchestrator sequences verification checks for one vault and one
// wallet. It reads the device ledger first, probes only what is not yet
// verified, writes positive results back, triggers the reward gate on the
// follow step and gates the move to paid chat.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vault-gate/ledger"
	"vault-gate/policy"
	"vault-gate/probes"
)

// DefaultClearAfter is how long a transient failure stays visible before
// the step returns to unchecked.
const DefaultClearAfter = 3 * time.Second

// Subject is the user's Twitter/X account.
type Subject struct {
	TwitterID string
	Username  string
}

type Config struct {
	Policy   policy.VaultPolicy
	Wallet   string
	Subject  Subject
	Verifier Verifier
	Rewarder Rewarder
	Ledger   ledger.Store
	Clock    clockwork.Clock
	Logger   *zap.Logger
	// ClearAfter defaults to DefaultClearAfter.
	ClearAfter time.Duration
	// OnChange receives a snapshot after every state change. It may be
	// called from several goroutines at once.
	OnChange func(Snapshot)
}

type stepSlot struct {
	state    StepState
	inFlight bool
	// gen changes on every check start and reset so stale results and
	// timers can tell they are stale.
	gen   uint64
	timer clockwork.Timer
}

type Orchestrator struct {
	cfg   Config
	clock clockwork.Clock
	log   *zap.Logger

	// idMu serialises the identity check so it runs once per session.
	idMu sync.Mutex

	mu               sync.Mutex
	slots            map[policy.StepKind]*stepSlot
	closed           bool
	identityChecked  bool
	identityConflict bool
	creditsAwarded   bool
	lastAward        *Award
	rewardErr        string
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Policy.VaultID == "" {
		return nil, errors.New("vault id is required")
	}
	if cfg.Wallet == "" {
		return nil, errors.New("wallet is required")
	}
	if cfg.Verifier == nil || cfg.Ledger == nil {
		return nil, errors.New("verifier and ledger are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ClearAfter <= 0 {
		cfg.ClearAfter = DefaultClearAfter
	}

	o := &Orchestrator{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger.With(zap.String("vault", cfg.Policy.VaultID), zap.String("wallet", cfg.Wallet)),
		slots: make(map[policy.StepKind]*stepSlot),
	}
	now := o.clock.Now()
	for _, step := range cfg.Policy.RequiredSteps.Ordered() {
		o.slots[step] = &stepSlot{state: StepState{Step: step, Phase: PhaseUnchecked, UpdatedAt: now}}
	}
	return o, nil
}

func (o *Orchestrator) vaultID() string { return o.cfg.Policy.VaultID }

// Load seeds step states from the ledger. Steps the ledger already has as
// verified are never probed again.
func (o *Orchestrator) Load(ctx context.Context) error {
	rec, err := o.cfg.Ledger.Get(ctx, o.vaultID())
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	o.mu.Lock()
	for step, slot := range o.slots {
		if rec.Step(step) {
			slot.state = StepState{Step: step, Phase: PhaseVerified, UpdatedAt: rec.StepTimestamps[step]}
		}
	}
	o.creditsAwarded = rec != nil && rec.CreditsAwarded
	o.mu.Unlock()
	o.log.Debug("[ORCH] ledger loaded", zap.Bool("found", rec != nil))
	o.notify()
	return nil
}

// Close stops ledger writes and pending auto-clear timers. Checks already
// running finish but their results are not persisted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for _, slot := range o.slots {
		stopTimer(slot)
	}
}

func stopTimer(slot *stepSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

// locked reports whether step waits on a required, unverified prerequisite.
// Callers hold o.mu.
func (o *Orchestrator) locked(step policy.StepKind) bool {
	pre, ok := step.Prerequisite()
	if !ok {
		return false
	}
	slot, required := o.slots[pre]
	return required && slot.state.Phase != PhaseVerified
}

func (o *Orchestrator) slotFor(step policy.StepKind) (*stepSlot, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	slot, ok := o.slots[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotRequired, step)
	}
	return slot, nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		VaultID:          o.vaultID(),
		AllStepsComplete: o.completeLocked(),
		CreditsAwarded:   o.creditsAwarded,
		IdentityConflict: o.identityConflict,
		RewardError:      o.rewardErr,
	}
	if o.lastAward != nil {
		a := *o.lastAward
		snap.LastAward = &a
	}
	for _, step := range o.cfg.Policy.RequiredSteps.Ordered() {
		st := o.slots[step].state
		st.Locked = o.locked(step)
		snap.Steps = append(snap.Steps, st)
	}
	return snap
}

// State returns the state of one step.
func (o *Orchestrator) State(step policy.StepKind) (StepState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot, err := o.slotFor(step)
	if err != nil {
		return StepState{Step: step}, err
	}
	st := slot.state
	st.Locked = o.locked(step)
	return st, nil
}

func (o *Orchestrator) notify() {
	if o.cfg.OnChange == nil {
		return
	}
	o.cfg.OnChange(o.Snapshot())
}

// AllStepsComplete is the AND of every step the vault requires.
func (o *Orchestrator) AllStepsComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completeLocked()
}

func (o *Orchestrator) completeLocked() bool {
	for _, slot := range o.slots {
		if slot.state.Phase != PhaseVerified {
			return false
		}
	}
	return true
}

func (o *Orchestrator) completedLocked() int {
	n := 0
	for _, slot := range o.slots {
		if slot.state.Phase == PhaseVerified {
			n++
		}
	}
	return n
}

// persist writes p unless the orchestrator was closed.
func (o *Orchestrator) persist(ctx context.Context, p ledger.Patch) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil
	}
	if _, err := o.cfg.Ledger.Update(ctx, o.vaultID(), p); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// CheckStep probes one Twitter step. A verified step returns immediately;
// a failed or negative check can be retried at any time.
func (o *Orchestrator) CheckStep(ctx context.Context, step policy.StepKind) (StepState, error) {
	o.mu.Lock()
	slot, err := o.slotFor(step)
	if err != nil {
		o.mu.Unlock()
		return StepState{Step: step}, err
	}
	st := slot.state
	switch {
	case o.closed:
		err = ErrClosed
	case step.IsClickThrough():
		err = ErrClickThrough
	case st.Phase == PhaseVerified:
	case slot.inFlight:
		err = ErrInFlight
	case o.locked(step):
		err = ErrLocked
	case o.identityConflict:
		err = ErrIdentityConflict
	default:
		slot.inFlight = true
		slot.gen++
		stopTimer(slot)
		slot.state = StepState{Step: step, Phase: PhaseChecking, UpdatedAt: o.clock.Now()}
		st = slot.state
	}
	gen := slot.gen
	o.mu.Unlock()
	if err != nil || st.Phase != PhaseChecking {
		return st, err
	}
	o.notify()

	conflict, ierr := o.ensureIdentity(ctx)
	if conflict {
		o.mu.Lock()
		slot.inFlight = false
		st = slot.state
		o.mu.Unlock()
		return st, ErrIdentityConflict
	}
	var v probes.Verdict
	if ierr != nil {
		o.log.Warn("[ORCH] identity check failed", zap.Error(ierr))
		v = probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindNetwork, Message: "identity check failed"}}
	} else {
		v = o.probe(ctx, step)
	}

	if ctx.Err() != nil {
		o.mu.Lock()
		slot.inFlight = false
		if slot.gen == gen {
			slot.state = StepState{Step: step, Phase: PhaseUnchecked, UpdatedAt: o.clock.Now()}
		}
		st = slot.state
		o.mu.Unlock()
		o.notify()
		return st, ctx.Err()
	}
	return o.complete(ctx, step, slot, gen, v)
}

func (o *Orchestrator) complete(ctx context.Context, step policy.StepKind, slot *stepSlot, gen uint64, v probes.Verdict) (StepState, error) {
	o.mu.Lock()
	slot.inFlight = false
	if slot.gen != gen || o.identityConflict {
		// reset or identity conflict while the probe was running
		st := slot.state
		o.mu.Unlock()
		return st, nil
	}
	if v.Error != nil && v.Error.Kind == probes.KindIdentityConflict {
		// the server's guard saw a conflict the session check missed
		o.identityChecked = true
		o.mu.Unlock()
		o.markConflict()
		o.mu.Lock()
		st := slot.state
		o.mu.Unlock()
		return st, ErrIdentityConflict
	}
	now := o.clock.Now()
	if v.Failed() || !v.Verified {
		o.failLocked(slot, v.Error, now)
		st := slot.state
		o.mu.Unlock()
		o.log.Info("[ORCH] step not verified", zap.String("step", string(step)), zap.String("message", st.Message))
		o.notify()
		return st, nil
	}
	slot.state = StepState{Step: step, Phase: PhaseVerified, Optimistic: v.Optimistic, UpdatedAt: now}
	st := slot.state
	o.mu.Unlock()
	o.log.Info("[ORCH] step verified", zap.String("step", string(step)), zap.Bool("optimistic", v.Optimistic))
	o.notify()

	if err := o.persist(ctx, ledger.StepDone(step)); err != nil {
		return st, err
	}
	if step == policy.StepTwitterFollow {
		o.afterFollow(ctx)
	}
	return st, nil
}

// failLocked moves slot to unverified and schedules the auto-clear for
// transient failures. Callers hold o.mu.
func (o *Orchestrator) failLocked(slot *stepSlot, perr *probes.ProbeError, now time.Time) {
	slot.state = StepState{
		Step:      slot.state.Step,
		Phase:     PhaseUnverified,
		Err:       perr,
		Message:   userMessage(perr),
		UpdatedAt: now,
	}
	if perr != nil && !perr.Kind.Transient() {
		return
	}
	delay := o.cfg.ClearAfter
	if perr != nil && perr.RetryAfter > delay {
		delay = perr.RetryAfter
	}
	gen := slot.gen
	step := slot.state.Step
	stopTimer(slot)
	slot.timer = o.clock.AfterFunc(delay, func() { o.autoClear(step, gen) })
}

func (o *Orchestrator) autoClear(step policy.StepKind, gen uint64) {
	o.mu.Lock()
	slot, ok := o.slots[step]
	if !ok || o.closed || slot.gen != gen || slot.state.Phase != PhaseUnverified {
		o.mu.Unlock()
		return
	}
	if slot.state.Err != nil && !slot.state.Err.Kind.Transient() {
		o.mu.Unlock()
		return
	}
	slot.timer = nil
	slot.state = StepState{Step: step, Phase: PhaseUnchecked, UpdatedAt: o.clock.Now()}
	o.mu.Unlock()
	o.notify()
}

// probe dispatches step to the matching verifier call.
func (o *Orchestrator) probe(ctx context.Context, step policy.StepKind) probes.Verdict {
	subject := o.cfg.Subject.TwitterID
	if subject == "" {
		return probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindAuthRequired, Message: "no twitter account connected"}}
	}
	p := o.cfg.Policy
	var target string
	var run func(context.Context, string, string) probes.Verdict
	switch step {
	case policy.StepTwitterFollow:
		target, run = p.Targets.SponsorTwitterID, o.cfg.Verifier.CheckFollow
	case policy.StepTwitterFollowSponsor2:
		target, run = p.Targets.Sponsor2TwitterID, o.cfg.Verifier.CheckFollow
	case policy.StepRetweet:
		target, run = p.Content.RetweetContent, o.cfg.Verifier.CheckRetweet
	case policy.StepSecondRetweet:
		target, run = p.Content.SecondRetweetContent, o.cfg.Verifier.CheckRetweet
	case policy.StepLike:
		target, run = p.Targets.LikeTweetID, o.cfg.Verifier.CheckLike
	case policy.StepSecondLike:
		target, run = p.Targets.SecondLikeTweetID, o.cfg.Verifier.CheckLike
	case policy.StepTweetPosted:
		target, run = p.Content.TweetContent, o.cfg.Verifier.CheckTweet
	default:
		return probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindNotFound, Message: "step has no probe"}}
	}
	if target == "" {
		return probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindNotFound, Message: fmt.Sprintf("vault has no target for %s", step)}}
	}
	return run(ctx, subject, target)
}

// ensureIdentity runs the identity-conflict check once per session. Errors
// are not cached.
func (o *Orchestrator) ensureIdentity(ctx context.Context) (bool, error) {
	o.idMu.Lock()
	defer o.idMu.Unlock()

	o.mu.Lock()
	checked, conflict := o.identityChecked, o.identityConflict
	o.mu.Unlock()
	if checked {
		return conflict, nil
	}
	if o.cfg.Subject.TwitterID == "" {
		return false, nil
	}
	conflict, err := o.cfg.Verifier.IdentityConflict(ctx, o.cfg.Subject.TwitterID, o.cfg.Wallet)
	if err != nil {
		return false, err
	}
	o.mu.Lock()
	o.identityChecked = true
	o.mu.Unlock()
	if conflict {
		o.markConflict()
	}
	return conflict, nil
}

// markConflict puts every unverified Twitter step into the identity
// conflict state. Only Reset clears it.
func (o *Orchestrator) markConflict() {
	perr := &probes.ProbeError{Kind: probes.KindIdentityConflict, Message: ErrIdentityConflict.Error()}
	o.mu.Lock()
	o.identityConflict = true
	now := o.clock.Now()
	for step, slot := range o.slots {
		if !step.IsTwitter() || slot.state.Phase == PhaseVerified {
			continue
		}
		stopTimer(slot)
		o.failLocked(slot, perr, now)
	}
	o.mu.Unlock()
	o.log.Warn("[ORCH] identity conflict", zap.String("twitterId", o.cfg.Subject.TwitterID))
	o.notify()
}

func (o *Orchestrator) afterFollow(ctx context.Context) {
	if _, err := o.ClaimReward(ctx); err != nil && !errors.Is(err, ErrClosed) {
		o.log.Warn("[ORCH] reward claim failed", zap.Error(err))
	}
	o.linkIdentity(ctx)
}

// ClaimReward calls the reward gate unless the ledger already records the
// bonus. The follow step must be verified.
func (o *Orchestrator) ClaimReward(ctx context.Context) (Award, error) {
	o.mu.Lock()
	slot, ok := o.slots[policy.StepTwitterFollow]
	switch {
	case o.closed:
		o.mu.Unlock()
		return Award{}, ErrClosed
	case !ok || slot.state.Phase != PhaseVerified:
		o.mu.Unlock()
		return Award{}, ErrFollowNotVerified
	case o.creditsAwarded:
		o.mu.Unlock()
		return Award{AlreadyAwarded: true}, nil
	}
	completed := o.completedLocked()
	o.mu.Unlock()

	if o.cfg.Rewarder == nil {
		return Award{}, errors.New("no reward gate configured")
	}
	award, err := o.cfg.Rewarder.AwardFreeCredits(ctx, o.vaultID(), o.cfg.Wallet, completed)
	o.mu.Lock()
	if err != nil {
		o.rewardErr = err.Error()
	} else {
		o.rewardErr = ""
		o.lastAward = &award
		if award.Granted() {
			o.creditsAwarded = true
		}
	}
	o.mu.Unlock()
	o.notify()
	if err != nil {
		return Award{}, fmt.Errorf("award free credits: %w", err)
	}

	o.log.Info("[ORCH] reward gate answered",
		zap.Bool("success", award.Success), zap.Bool("alreadyAwarded", award.AlreadyAwarded), zap.Int64("credits", award.CreditsAwarded))
	if award.Granted() {
		if err := o.persist(ctx, ledger.Patch{CreditsAwarded: ledger.Bool(true)}); err != nil {
			return award, err
		}
	}
	return award, nil
}

func (o *Orchestrator) linkIdentity(ctx context.Context) {
	subject := o.cfg.Subject
	if subject.TwitterID == "" {
		return
	}
	err := o.cfg.Verifier.LinkIdentity(ctx, o.cfg.Wallet, subject.TwitterID, subject.Username)
	if errors.Is(err, ErrIdentityConflict) {
		o.markConflict()
		return
	}
	if err != nil {
		o.log.Warn("[ORCH] identity link failed", zap.Error(err))
		return
	}
	if target := o.cfg.Policy.Targets.SponsorTwitterID; target != "" {
		if err := o.cfg.Verifier.RecordFollow(ctx, o.cfg.Wallet, target); err != nil {
			o.log.Warn("[ORCH] record follow failed", zap.Error(err))
		}
	}
}

// Confirm marks a click-through step done.
func (o *Orchestrator) Confirm(ctx context.Context, step policy.StepKind) (StepState, error) {
	o.mu.Lock()
	slot, err := o.slotFor(step)
	switch {
	case err != nil:
	case o.closed:
		err = ErrClosed
	case !step.IsClickThrough():
		err = ErrNotClickThrough
	}
	if err != nil {
		o.mu.Unlock()
		return StepState{Step: step}, err
	}
	if slot.state.Phase != PhaseVerified {
		slot.gen++
		slot.state = StepState{Step: step, Phase: PhaseVerified, UpdatedAt: o.clock.Now()}
	}
	st := slot.state
	o.mu.Unlock()
	o.notify()
	return st, o.persist(ctx, ledger.StepDone(step))
}

// dependents returns steps plus any step that requires one of them.
func dependents(steps []policy.StepKind) []policy.StepKind {
	set := policy.NewStepSet(steps...)
	for _, s := range policy.AllSteps {
		if pre, ok := s.Prerequisite(); ok && set.Has(pre) {
			set.Add(s)
		}
	}
	return set.Ordered()
}

// Reset clears the given steps (and steps locked behind them) in memory and
// in the ledger. Resetting any Twitter step also clears an identity
// conflict so the next check asks the server again.
func (o *Orchestrator) Reset(ctx context.Context, steps ...policy.StepKind) error {
	for _, s := range steps {
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownStep, s)
		}
	}
	steps = dependents(steps)
	twitter := false
	for _, s := range steps {
		twitter = twitter || s.IsTwitter()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	now := o.clock.Now()
	for _, s := range steps {
		if slot, ok := o.slots[s]; ok {
			o.resetSlotLocked(slot, now)
		}
	}
	if twitter && o.identityConflict {
		o.clearConflictLocked(now)
	}
	o.mu.Unlock()
	o.notify()

	if _, err := o.cfg.Ledger.ClearSteps(ctx, o.vaultID(), steps...); err != nil {
		return fmt.Errorf("clear ledger steps: %w", err)
	}
	o.log.Info("[ORCH] steps reset", zap.Any("steps", steps))
	return nil
}

// ResetAll drops the vault's ledger record and starts over.
func (o *Orchestrator) ResetAll(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	now := o.clock.Now()
	for _, slot := range o.slots {
		o.resetSlotLocked(slot, now)
	}
	o.clearConflictLocked(now)
	o.creditsAwarded = false
	o.lastAward = nil
	o.rewardErr = ""
	o.mu.Unlock()
	o.notify()

	if err := o.cfg.Ledger.Delete(ctx, o.vaultID()); err != nil {
		return fmt.Errorf("delete ledger record: %w", err)
	}
	o.log.Info("[ORCH] ledger record reset")
	return nil
}

func (o *Orchestrator) resetSlotLocked(slot *stepSlot, now time.Time) {
	stopTimer(slot)
	slot.gen++
	slot.state = StepState{Step: slot.state.Step, Phase: PhaseUnchecked, UpdatedAt: now}
}

func (o *Orchestrator) clearConflictLocked(now time.Time) {
	o.identityChecked = false
	o.identityConflict = false
	for _, slot := range o.slots {
		if err := slot.state.Err; err != nil && err.Kind == probes.KindIdentityConflict {
			o.resetSlotLocked(slot, now)
		}
	}
}

// ChatPath is where Proceed sends the user.
func ChatPath(vaultID string) string {
	return "/chat/" + url.PathEscape(vaultID)
}

// Proceed is the one-way gate into paid chat. It trusts the accumulated step
// states, records allStepsVerified and returns the chat destination.
func (o *Orchestrator) Proceed(ctx context.Context) (string, error) {
	o.mu.Lock()
	closed, complete := o.closed, o.completeLocked()
	o.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if !complete {
		return "", ErrStepsIncomplete
	}
	if err := o.persist(ctx, ledger.Patch{AllStepsVerified: ledger.Bool(true)}); err != nil {
		return "", err
	}
	o.log.Info("[ORCH] proceeding to chat")
	return ChatPath(o.vaultID()), nil
}
