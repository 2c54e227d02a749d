package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-gate/policy"
)

type storeFactory func(t *testing.T, clock clockwork.Clock) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"badger": func(t *testing.T, clock clockwork.Clock) Store {
			s, err := OpenBadger(BadgerConfig{InMemory: true, Clock: clock})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T, clock clockwork.Clock) Store {
			return NewMemoryStore(clock)
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *clockwork.FakeClock)) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
			fn(t, factory(t, clock), clock)
		})
	}
}

func TestGet_Absent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clockwork.FakeClock) {
		rec, err := s.Get(context.Background(), "v1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestUpdate_CreatesAndMerges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *clockwork.FakeClock) {
		ctx := context.Background()
		start := clock.Now()

		_, err := s.Update(ctx, "v1", StepDone(policy.StepTwitterFollow))
		require.NoError(t, err)

		clock.Advance(time.Minute)
		_, err = s.Update(ctx, "v1", Patch{
			Steps:          map[policy.StepKind]bool{policy.StepRetweet: true},
			CreditsAwarded: Bool(true),
		})
		require.NoError(t, err)

		rec, err := s.Get(ctx, "v1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "v1", rec.VaultID)
		assert.True(t, rec.Step(policy.StepTwitterFollow))
		assert.True(t, rec.Step(policy.StepRetweet))
		assert.False(t, rec.Step(policy.StepLike))
		assert.True(t, rec.CreditsAwarded)
		require.NotNil(t, rec.CreditsAwardedAt)
		assert.True(t, rec.CreditsAwardedAt.Equal(start.Add(time.Minute)))
		assert.True(t, rec.StepTimestamps[policy.StepTwitterFollow].Equal(start))
		assert.True(t, rec.CreatedAt.Equal(start))
		assert.True(t, rec.UpdatedAt.Equal(start.Add(time.Minute)))
		assert.False(t, rec.AllStepsVerified)
		assert.Nil(t, rec.AllStepsVerifiedAt)
	})
}

func TestUpdate_UnchangedFlagKeepsTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *clockwork.FakeClock) {
		ctx := context.Background()
		first := clock.Now()
		_, err := s.Update(ctx, "v1", Patch{
			Steps:          map[policy.StepKind]bool{policy.StepTelegram: true},
			CreditsAwarded: Bool(true),
		})
		require.NoError(t, err)

		clock.Advance(time.Hour)
		rec, err := s.Update(ctx, "v1", Patch{
			Steps:          map[policy.StepKind]bool{policy.StepTelegram: true},
			CreditsAwarded: Bool(true),
		})
		require.NoError(t, err)
		assert.True(t, rec.StepTimestamps[policy.StepTelegram].Equal(first))
		assert.True(t, rec.CreditsAwardedAt.Equal(first))
	})
}

func TestClearSteps(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clockwork.FakeClock) {
		ctx := context.Background()
		_, err := s.Update(ctx, "v1", Patch{
			Steps: map[policy.StepKind]bool{
				policy.StepRetweet: true,
				policy.StepLike:    true,
				policy.StepDiscord: true,
			},
			AllStepsVerified: Bool(true),
			CreditsAwarded:   Bool(true),
		})
		require.NoError(t, err)

		rec, err := s.ClearSteps(ctx, "v1", policy.StepRetweet, policy.StepLike)
		require.NoError(t, err)
		assert.False(t, rec.Step(policy.StepRetweet))
		assert.False(t, rec.Step(policy.StepLike))
		assert.True(t, rec.Step(policy.StepDiscord))
		assert.False(t, rec.AllStepsVerified)
		assert.True(t, rec.CreditsAwarded, "credits flag survives a step reset")
		assert.NotContains(t, rec.StepTimestamps, policy.StepRetweet)
	})
}

func TestDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clockwork.FakeClock) {
		ctx := context.Background()
		_, err := s.Update(ctx, "v1", StepDone(policy.StepTwitterFollow))
		require.NoError(t, err)
		_, err = s.Update(ctx, "v2", StepDone(policy.StepTwitterFollow))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "v1"))
		require.NoError(t, s.Delete(ctx, "missing"))

		rec, err := s.Get(ctx, "v1")
		require.NoError(t, err)
		assert.Nil(t, rec)
		rec, err = s.Get(ctx, "v2")
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})
}

func TestEmptyVaultIDRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clockwork.FakeClock) {
		_, err := s.Update(context.Background(), " ", StepDone(policy.StepLike))
		assert.Error(t, err)
		_, err = s.Get(context.Background(), "")
		assert.Error(t, err)
	})
}

func TestUpdate_ConcurrentWritersMerge(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clockwork.FakeClock) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for _, step := range policy.AllSteps {
			wg.Add(1)
			go func(step policy.StepKind) {
				defer wg.Done()
				_, err := s.Update(ctx, "v1", StepDone(step))
				assert.NoError(t, err)
			}(step)
		}
		wg.Wait()

		rec, err := s.Get(ctx, "v1")
		require.NoError(t, err)
		for _, step := range policy.AllSteps {
			assert.True(t, rec.Step(step), "step %s lost", step)
		}
	})
}

func TestMemoryStore_ReturnedRecordIsDetached(t *testing.T) {
	s := NewMemoryStore(nil)
	rec, err := s.Update(context.Background(), "v1", StepDone(policy.StepLike))
	require.NoError(t, err)
	rec.Steps[policy.StepRetweet] = true

	again, err := s.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, again.Step(policy.StepRetweet))
}

func TestBadgerStore_List(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_, err := s.Update(ctx, id, StepDone(policy.StepTwitterFollow))
		require.NoError(t, err)
	}
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].VaultID)
	assert.Equal(t, "b", recs[1].VaultID)
}

func TestOpenBadger_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	_, err = s.Update(context.Background(), "v1", StepDone(policy.StepTwitterFollow))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, rec.Step(policy.StepTwitterFollow))
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
