package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vault-gate/policy"
)

const (
	keyPrefix = "verification/"
	// maxConflictRetries bounds re-runs of a read-modify-write that lost a
	// race with another writer on the same record.
	maxConflictRetries = 16
)

// BadgerConfig configures the on-device store.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// BadgerStore is a Store backed by badger. Each Update is a single
// read-modify-write transaction.
type BadgerStore struct {
	db    *badger.DB
	clock clockwork.Clock
	log   *zap.Logger
}

type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("ledger directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{log: log.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BadgerStore{db: db, clock: clock, log: log}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(vaultID string) []byte {
	return []byte(keyPrefix + vaultID)
}

func validVaultID(vaultID string) error {
	if strings.TrimSpace(vaultID) == "" {
		return errors.New("vault id is required")
	}
	return nil
}

func readRecord(txn *badger.Txn, vaultID string) (*Record, error) {
	item, err := txn.Get(recordKey(vaultID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode ledger record %s: %w", vaultID, err)
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record %s: %w", rec.VaultID, err)
	}
	return txn.Set(recordKey(rec.VaultID), raw)
}

func (s *BadgerStore) Get(ctx context.Context, vaultID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validVaultID(vaultID); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, vaultID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return rec, nil
}

func (s *BadgerStore) Update(ctx context.Context, vaultID string, p Patch) (*Record, error) {
	return s.modify(ctx, vaultID, func(rec *Record) {
		apply(rec, p, s.clock.Now())
	})
}

func (s *BadgerStore) ClearSteps(ctx context.Context, vaultID string, steps ...policy.StepKind) (*Record, error) {
	return s.modify(ctx, vaultID, func(rec *Record) {
		clearSteps(rec, steps, s.clock.Now())
	})
}

func (s *BadgerStore) modify(ctx context.Context, vaultID string, fn func(*Record)) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validVaultID(vaultID); err != nil {
		return nil, err
	}
	var out *Record
	txnFn := func(txn *badger.Txn) error {
		rec, err := readRecord(txn, vaultID)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = newRecord(vaultID, s.clock.Now())
		}
		fn(rec)
		out = rec
		return writeRecord(txn, rec)
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = s.db.Update(txnFn); !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}
	s.log.Debug("[LEDGER] record updated", zap.String("vault", vaultID))
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, vaultID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validVaultID(vaultID); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(vaultID))
	}); err != nil {
		return fmt.Errorf("delete ledger record: %w", err)
	}
	return nil
}

// List returns every stored record, ordered by vault id.
func (s *BadgerStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return out, nil
}
