package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"vault-gate/ledger"
	"vault-gate/policy"
	"vault-gate/probes"
)

const (
	testWallet  = "0xabc"
	sponsorID   = "100"
	likeTweetID = "555"
	rtContent   = "Join the vault"
	tweetText   = "I am in"
)

var (
	yes = probes.Verdict{Verified: true}
	no  = probes.Verdict{}
)

func failure(kind probes.ErrorKind, retryAfter time.Duration) probes.Verdict {
	return probes.Verdict{Error: &probes.ProbeError{Kind: kind, Message: string(kind), RetryAfter: retryAfter}}
}

type fakeVerifier struct {
	mu       sync.Mutex
	results  map[string]probes.Verdict
	dynamic  map[string]func(call int) probes.Verdict
	calls    map[string]int
	gate     chan struct{}
	conflict bool
	idCalls  int
	linkErr  error
	links    []string
	follows  []string
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		results: make(map[string]probes.Verdict),
		dynamic: make(map[string]func(int) probes.Verdict),
		calls:   make(map[string]int),
	}
}

func (f *fakeVerifier) set(target string, v probes.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[target] = v
}

func (f *fakeVerifier) setConflict(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflict = c
}

func (f *fakeVerifier) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

func (f *fakeVerifier) identityCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idCalls
}

func (f *fakeVerifier) verdict(ctx context.Context, target string) probes.Verdict {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return failure(probes.KindTimeout, 0)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[target]++
	if fn, ok := f.dynamic[target]; ok {
		return fn(f.calls[target])
	}
	if v, ok := f.results[target]; ok {
		return v
	}
	return no
}

func (f *fakeVerifier) CheckFollow(ctx context.Context, _, target string) probes.Verdict {
	return f.verdict(ctx, target)
}

func (f *fakeVerifier) CheckRetweet(ctx context.Context, _, content string) probes.Verdict {
	return f.verdict(ctx, content)
}

func (f *fakeVerifier) CheckLike(ctx context.Context, _, tweetID string) probes.Verdict {
	return f.verdict(ctx, tweetID)
}

func (f *fakeVerifier) CheckTweet(ctx context.Context, _, content string) probes.Verdict {
	return f.verdict(ctx, content)
}

func (f *fakeVerifier) IdentityConflict(_ context.Context, _, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	return f.conflict, nil
}

func (f *fakeVerifier) LinkIdentity(_ context.Context, wallet, twitterID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links = append(f.links, wallet+":"+twitterID+":"+username)
	return nil
}

func (f *fakeVerifier) RecordFollow(_ context.Context, wallet, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows = append(f.follows, wallet+":"+targetID)
	return nil
}

type awardCall struct {
	vaultID   string
	wallet    string
	completed int
}

// fakeRewarder behaves like the server gate: one grant per vault and wallet.
type fakeRewarder struct {
	mu      sync.Mutex
	awarded map[string]bool
	calls   []awardCall
	err     error
	before  func()
}

func newFakeRewarder() *fakeRewarder {
	return &fakeRewarder{awarded: make(map[string]bool)}
}

func (r *fakeRewarder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRewarder) callList() []awardCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]awardCall(nil), r.calls...)
}

func (r *fakeRewarder) AwardFreeCredits(_ context.Context, vaultID, wallet string, completed int) (Award, error) {
	if r.before != nil {
		r.before()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, awardCall{vaultID, wallet, completed})
	if r.err != nil {
		return Award{}, r.err
	}
	key := vaultID + "|" + strings.ToLower(wallet)
	if r.awarded[key] {
		return Award{AlreadyAwarded: true}, nil
	}
	r.awarded[key] = true
	return Award{Success: true, CreditsAwarded: int64(completed)}, nil
}

func testPolicy() policy.VaultPolicy {
	p := policy.Default("111")
	p.Targets.SponsorTwitterID = sponsorID
	p.Targets.LikeTweetID = likeTweetID
	p.Content.RetweetContent = rtContent
	p.Content.TweetContent = tweetText
	return p
}

type harness struct {
	o     *Orchestrator
	v     *fakeVerifier
	r     *fakeRewarder
	store *ledger.MemoryStore
	clock *clockwork.FakeClock
}

func newHarness(t *testing.T, p policy.VaultPolicy, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		v:     newFakeVerifier(),
		r:     newFakeRewarder(),
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.store = ledger.NewMemoryStore(h.clock)
	cfg := Config{
		Policy:   p,
		Wallet:   testWallet,
		Subject:  Subject{TwitterID: "42", Username: "alice"},
		Verifier: h.v,
		Rewarder: h.r,
		Ledger:   h.store,
		Clock:    h.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if fv, ok := cfg.Verifier.(*fakeVerifier); ok {
		h.v = fv
	}
	if fr, ok := cfg.Rewarder.(*fakeRewarder); ok {
		h.r = fr
	}
	if ms, ok := cfg.Ledger.(*ledger.MemoryStore); ok {
		h.store = ms
	}
	o, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, o.Load(context.Background()))
	t.Cleanup(o.Close)
	h.o = o
	return h
}

func (h *harness) record(t *testing.T) *ledger.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), h.o.vaultID())
	require.NoError(t, err)
	return rec
}

func (h *harness) phase(t *testing.T, step policy.StepKind) Phase {
	t.Helper()
	st, err := h.o.State(step)
	require.NoError(t, err)
	return st.Phase
}
