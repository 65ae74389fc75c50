// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics, snapshotting state buckets to JSONB and appending audit
// entries and age progression events to queryable tables.
package postgres

import (
	"casecore/internal/infra/fieldcrypt"
	"casecore/internal/infra/persistence/memory"
	"casecore/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertions ensuring the store satisfies the domain
// interface and coordinates with other processes on the same database.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ memory.Backend         = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/casecore?sslmode=disable"
	// advisoryLockKey serialises casecore units of work across processes.
	advisoryLockKey int64 = 0x63617365636f7265
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT,
		actor_label TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		field_name TEXT,
		old_value TEXT,
		new_value TEXT,
		metadata JSONB,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS age_progression_events (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL,
		previous_category TEXT NOT NULL,
		new_category TEXT NOT NULL,
		transition_date DATE NOT NULL,
		age_in_months INTEGER NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (child_id, transition_date)
	)`,
}

const (
	lockState         = `SELECT pg_advisory_xact_lock($1)`
	selectVersion     = `SELECT value FROM meta WHERE key = 'version'`
	storeVersion      = `INSERT INTO meta(key,value) VALUES('version',$1) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`
	selectState       = `SELECT bucket, payload FROM state`
	upsertState       = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`
	insertAudit       = `INSERT INTO audit_log(id,actor_id,actor_label,entity_type,entity_id,action,field_name,old_value,new_value,metadata,recorded_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT(id) DO NOTHING`
	insertProgression = `INSERT INTO age_progression_events(id,child_id,previous_category,new_category,transition_date,age_in_months,recorded_at) VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT DO NOTHING`
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions. Each unit of work holds a transaction-scoped advisory lock
// and reloads the buckets when the stored version moved past the one this
// process last saw, so concurrent processes never overwrite each other.
type Store struct {
	*memory.Store
	db     *sql.DB
	cipher fieldcrypt.Cipher

	mu            sync.Mutex
	seen          int64
	mirroredAudit int
	mirroredProgs map[string]struct{}
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the schema exists and hydrates the in-memory store from any existing snapshot.
func NewStore(ctx context.Context, dsn string, bus *domain.EventBus, cipher fieldcrypt.Cipher, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if cipher == nil {
		cipher = fieldcrypt.Plaintext{}
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	s := &Store{db: db, cipher: cipher, seen: -1, mirroredProgs: make(map[string]struct{})}
	s.Store = memory.NewStore(bus, append(opts, memory.WithBackend(s))...)
	fresh, _, err := s.refresh(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if fresh != nil {
		s.Store.ImportState(*fresh)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Cipher returns the cipher sealing personal-data buckets.
func (s *Store) Cipher() fieldcrypt.Cipher { return s.cipher }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// refresh returns the stored state when its version differs from the last one
// seen, and resets the mirror bookkeeping to match it.
func (s *Store) refresh(ctx context.Context, q queryer) (*memory.Snapshot, int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, selectVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("select version: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == s.seen {
		return nil, version, nil
	}
	raw, err := readBuckets(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	var snapshot memory.Snapshot
	for bucket, payload := range raw {
		plain, err := fieldcrypt.OpenJSON(s.cipher, payload)
		if err != nil {
			return nil, 0, fmt.Errorf("open %s: %w", bucket, err)
		}
		if err := snapshot.DecodeBucket(bucket, plain); err != nil {
			return nil, 0, err
		}
	}
	s.seen = version
	// rows committed by other writers were mirrored by them
	s.mirroredAudit = len(snapshot.AuditLog)
	s.mirroredProgs = make(map[string]struct{}, len(snapshot.Progressions))
	for id := range snapshot.Progressions {
		s.mirroredProgs[id] = struct{}{}
	}
	return &snapshot, version, nil
}

// RawBuckets returns the stored payloads as written, for encryption checks.
func (s *Store) RawBuckets(ctx context.Context) (map[string][]byte, error) {
	return readBuckets(ctx, s.db)
}

func readBuckets(ctx context.Context, q queryer) (map[string][]byte, error) {
	rows, err := q.QueryContext(ctx, selectState)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return out, nil
}

// Begin opens a transaction holding the advisory lock for one unit of work.
func (s *Store) Begin(ctx context.Context) (memory.Session, *memory.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, lockState, advisoryLockKey); err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("lock state: %w", err)
	}
	fresh, version, err := s.refresh(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	return &session{store: s, tx: tx, version: version}, fresh, nil
}

// Latest returns state committed by other processes since the last refresh.
func (s *Store) Latest(ctx context.Context) (*memory.Snapshot, error) {
	fresh, _, err := s.refresh(ctx, s.db)
	return fresh, err
}

type session struct {
	store   *Store
	tx      *sql.Tx
	version int64
	done    bool
}

func (t *session) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func (t *session) Commit(ctx context.Context, snapshot memory.Snapshot) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bucket := range memory.Buckets {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			return err
		}
		if memory.PersonalDataBuckets[bucket] {
			if data, err = fieldcrypt.SealJSON(s.cipher, data); err != nil {
				return fmt.Errorf("seal %s: %w", bucket, err)
			}
		}
		if _, err := t.tx.ExecContext(ctx, upsertState, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}

	start := min(s.mirroredAudit, len(snapshot.AuditLog))
	for _, entry := range snapshot.AuditLog[start:] {
		row, err := s.sealAudit(entry)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, insertAudit,
			entry.ID, nullable(entry.ActorID), entry.ActorLabel, string(entry.EntityType), entry.EntityID,
			string(entry.Action), entry.FieldName, row.oldValue, row.newValue, row.metadata, entry.Timestamp,
		); err != nil {
			return fmt.Errorf("mirror audit %s: %w", entry.ID, err)
		}
	}

	pending := make([]domain.AgeProgressionEvent, 0)
	for id, event := range snapshot.Progressions {
		if _, ok := s.mirroredProgs[id]; !ok {
			pending = append(pending, event)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].TransitionDate.Equal(pending[j].TransitionDate) {
			return pending[i].TransitionDate.Before(pending[j].TransitionDate)
		}
		return pending[i].ID < pending[j].ID
	})
	for _, event := range pending {
		if _, err := t.tx.ExecContext(ctx, insertProgression,
			event.ID, event.ChildID, string(event.PreviousCategory), string(event.NewCategory),
			event.TransitionDate, event.AgeInMonths, event.RecordedAt,
		); err != nil {
			return fmt.Errorf("mirror progression %s: %w", event.ID, err)
		}
	}

	next := t.version + 1
	if _, err := t.tx.ExecContext(ctx, storeVersion, next); err != nil {
		return fmt.Errorf("store version: %w", err)
	}
	if err := t.tx.Commit(); err != nil {
		t.done = true
		return fmt.Errorf("commit: %w", err)
	}
	t.done = true
	s.seen = next
	s.mirroredAudit = len(snapshot.AuditLog)
	for _, event := range pending {
		s.mirroredProgs[event.ID] = struct{}{}
	}
	return nil
}

type auditRow struct {
	oldValue any
	newValue any
	metadata []byte
}

// sealAudit seals the values of a mirrored audit row, which can carry
// personal data copied from sealed buckets.
func (s *Store) sealAudit(entry domain.AuditLogEntry) (auditRow, error) {
	var row auditRow
	var err error
	if row.oldValue, err = sealValue(s.cipher, entry.OldValue); err != nil {
		return row, fmt.Errorf("seal audit %s: %w", entry.ID, err)
	}
	if row.newValue, err = sealValue(s.cipher, entry.NewValue); err != nil {
		return row, fmt.Errorf("seal audit %s: %w", entry.ID, err)
	}
	if len(entry.Metadata) > 0 {
		if row.metadata, err = json.Marshal(entry.Metadata); err != nil {
			return row, fmt.Errorf("encode audit metadata: %w", err)
		}
		if row.metadata, err = fieldcrypt.SealJSON(s.cipher, row.metadata); err != nil {
			return row, fmt.Errorf("seal audit %s: %w", entry.ID, err)
		}
	}
	return row, nil
}

func sealValue(c fieldcrypt.Cipher, v *string) (any, error) {
	if v == nil {
		return nil, nil
	}
	return fieldcrypt.SealString(c, *v)
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
