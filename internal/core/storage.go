package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"casecore/internal/infra/fieldcrypt"
	"casecore/internal/infra/persistence/memory"
	"casecore/internal/infra/persistence/postgres"
	"casecore/internal/infra/persistence/sqlite"
	"casecore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures a backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	// Cipher seals personal-data buckets in durable backends; nil stores plaintext.
	Cipher fieldcrypt.Cipher
}

// OpenedStore is a persistent store plus its release function.
type OpenedStore struct {
	domain.PersistentStore
	Close func() error
}

// OpenPersistentStore opens the backend named by cfg.Driver, defaulting to
// sqlite, with the listeners of bus. A nil bus uses NewDefaultEventBus.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, bus *domain.EventBus, opts ...memory.Option) (OpenedStore, error) {
	if bus == nil {
		bus = NewDefaultEventBus()
	}
	if cfg.Cipher == nil {
		cfg.Cipher = fieldcrypt.Plaintext{}
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return OpenedStore{PersistentStore: memory.NewStore(bus, opts...), Close: func() error { return nil }}, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, bus, cfg.Cipher, opts...)
		if err != nil {
			return OpenedStore{}, err
		}
		return OpenedStore{PersistentStore: store, Close: store.Close}, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, bus, cfg.Cipher, opts...)
		if err != nil {
			return OpenedStore{}, err
		}
		return OpenedStore{PersistentStore: store, Close: store.Close}, nil
	default:
		return OpenedStore{}, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// EncryptedStore is implemented by durable stores that seal personal data.
type EncryptedStore interface {
	RawBuckets(ctx context.Context) (map[string][]byte, error)
	Cipher() fieldcrypt.Cipher
}

// BucketStatus describes how one personal-data bucket is stored.
type BucketStatus string

const (
	BucketSealed    BucketStatus = "sealed"
	BucketPlaintext BucketStatus = "plaintext"
	BucketMissing   BucketStatus = "missing"
)

// EncryptionReport is the outcome of VerifyEncryption.
type EncryptionReport struct {
	CipherEnabled bool
	Buckets       map[string]BucketStatus
}

// PendingSeal lists buckets still stored as plaintext while a key is
// configured. The next commit seals them.
func (r EncryptionReport) PendingSeal() []string {
	if !r.CipherEnabled {
		return nil
	}
	var out []string
	for name, status := range r.Buckets {
		if status == BucketPlaintext {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ErrNotEncryptedStore is returned by VerifyEncryption for stores that keep
// nothing at rest.
var ErrNotEncryptedStore = errors.New("store does not persist data at rest")

// VerifyEncryption round-trips a probe through the store cipher and opens
// every stored personal-data bucket.
func VerifyEncryption(ctx context.Context, store domain.PersistentStore) (EncryptionReport, error) {
	es, ok := store.(EncryptedStore)
	if !ok {
		return EncryptionReport{}, ErrNotEncryptedStore
	}
	cipher := es.Cipher()
	report := EncryptionReport{CipherEnabled: cipher.Enabled(), Buckets: make(map[string]BucketStatus)}
	if err := fieldcrypt.Verify(cipher); err != nil {
		return report, fmt.Errorf("cipher round trip: %w", err)
	}
	raw, err := es.RawBuckets(ctx)
	if err != nil {
		return report, err
	}
	for name := range memory.PersonalDataBuckets {
		payload, found := raw[name]
		switch {
		case !found:
			report.Buckets[name] = BucketMissing
			continue
		case fieldcrypt.IsSealed(payload):
			report.Buckets[name] = BucketSealed
		default:
			report.Buckets[name] = BucketPlaintext
		}
		if _, err := fieldcrypt.OpenJSON(cipher, payload); err != nil {
			return report, fmt.Errorf("open bucket %s: %w", name, err)
		}
	}
	return report, nil
}
