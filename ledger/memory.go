package ledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jonboulle/clockwork"

	"vault-gate/policy"
)

// MemoryStore is a process-local Store. questctl uses it for --ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records map[string]*Record
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, records: make(map[string]*Record)}
}

// copyRecord deep-copies through JSON so callers never share maps with the store.
func copyRecord(r *Record) *Record {
	raw, _ := json.Marshal(r)
	var out Record
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (m *MemoryStore) Get(ctx context.Context, vaultID string) (*Record, error) {
	if err := validVaultID(vaultID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[vaultID]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) Update(ctx context.Context, vaultID string, p Patch) (*Record, error) {
	return m.modify(vaultID, func(r *Record) { apply(r, p, m.clock.Now()) })
}

func (m *MemoryStore) ClearSteps(ctx context.Context, vaultID string, steps ...policy.StepKind) (*Record, error) {
	return m.modify(vaultID, func(r *Record) { clearSteps(r, steps, m.clock.Now()) })
}

func (m *MemoryStore) modify(vaultID string, fn func(*Record)) (*Record, error) {
	if err := validVaultID(vaultID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[vaultID]
	if !ok {
		r = newRecord(vaultID, m.clock.Now())
		m.records[vaultID] = r
	}
	fn(r)
	return copyRecord(r), nil
}

func (m *MemoryStore) Delete(ctx context.Context, vaultID string) error {
	if err := validVaultID(vaultID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, vaultID)
	return nil
}
