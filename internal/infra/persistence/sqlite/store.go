// Package sqlite provides an embedded durable store that snapshots the
// in-memory state to SQLite after every unit of work, under the database
// write lock so several processes can share one file.
package sqlite

import (
	"casecore/internal/infra/fieldcrypt"
	"casecore/internal/infra/persistence/memory"
	"casecore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertions ensuring the store satisfies the domain
// interface and coordinates with other openers of the same file.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ memory.Backend         = (*Store)(nil)
)

const (
	defaultPath = "casecore.db"
	// bounds how long a writer waits for another opener to release the lock
	pragmaBusyTimeout = `PRAGMA busy_timeout = 5000`

	selectVersion = `SELECT value FROM meta WHERE key = 'version'`
	storeVersion  = `INSERT INTO meta(key,value) VALUES('version',?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	upsertState   = `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
}

// Store persists the in-memory state to a single SQLite table as JSON blobs,
// one row per bucket. Personal-data buckets are sealed with the configured
// cipher. A version row, bumped by every commit, lets several processes share
// one file: each unit of work takes the write lock and reloads the buckets
// when another opener committed first.
type Store struct {
	*memory.Store
	db     *sql.DB
	path   string
	cipher fieldcrypt.Cipher

	mu   sync.Mutex
	seen int64
}

// NewStore opens (or creates) the database at path and hydrates the store from it.
func NewStore(path string, bus *domain.EventBus, cipher fieldcrypt.Cipher, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if cipher == nil {
		cipher = fieldcrypt.Plaintext{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection per opener keeps its own writes ordered
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(pragmaBusyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{db: db, path: path, cipher: cipher, seen: -1}
	s.Store = memory.NewStore(bus, append(opts, memory.WithBackend(s))...)
	fresh, _, err := s.refresh(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if fresh != nil {
		s.ImportState(*fresh)
	}
	return s, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readVersion(ctx context.Context, q queryer) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, selectVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select version: %w", err)
	}
	return version, nil
}

// refresh returns the stored state when its version moved past the one this
// opener last loaded or wrote.
func (s *Store) refresh(ctx context.Context, q queryer) (*memory.Snapshot, int64, error) {
	version, err := readVersion(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	seen := s.seen
	s.mu.Unlock()
	if version == seen {
		return nil, version, nil
	}
	snapshot, err := s.load(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	s.seen = version
	s.mu.Unlock()
	return &snapshot, version, nil
}

func (s *Store) load(ctx context.Context, q queryer) (memory.Snapshot, error) {
	rows, err := q.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan: %w", err)
		}
		plain, err := fieldcrypt.OpenJSON(s.cipher, payload)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("open %s: %w", bucket, err)
		}
		if err := snapshot.DecodeBucket(bucket, plain); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// Begin takes the database write lock for one unit of work.
func (s *Store) Begin(ctx context.Context) (memory.Session, *memory.Snapshot, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, pragmaBusyTimeout); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	sess := &session{store: s, conn: conn}
	fresh, version, err := s.refresh(ctx, conn)
	if err != nil {
		_ = sess.Rollback()
		return nil, nil, err
	}
	sess.version = version
	return sess, fresh, nil
}

// Latest returns state committed by other openers since the last refresh.
func (s *Store) Latest(ctx context.Context) (*memory.Snapshot, error) {
	fresh, _, err := s.refresh(ctx, s.db)
	return fresh, err
}

type session struct {
	store   *Store
	conn    *sql.Conn
	version int64
	done    bool
}

func (t *session) Commit(ctx context.Context, snapshot memory.Snapshot) error {
	for _, bucket := range memory.Buckets {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			return err
		}
		if memory.PersonalDataBuckets[bucket] {
			if data, err = fieldcrypt.SealJSON(t.store.cipher, data); err != nil {
				return fmt.Errorf("seal %s: %w", bucket, err)
			}
		}
		if _, err := t.conn.ExecContext(ctx, upsertState, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	next := t.version + 1
	if _, err := t.conn.ExecContext(ctx, storeVersion, next); err != nil {
		return fmt.Errorf("store version: %w", err)
	}
	if _, err := t.conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.done = true
	_ = t.conn.Close()
	t.store.mu.Lock()
	t.store.seen = next
	t.store.mu.Unlock()
	return nil
}

func (t *session) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), `ROLLBACK`)
	_ = t.conn.Close()
	return err
}

// RawBuckets returns the stored payloads as written, for encryption checks.
func (s *Store) RawBuckets(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[bucket] = payload
	}
	return out, rows.Err()
}

// Cipher returns the cipher sealing personal-data buckets.
func (s *Store) Cipher() fieldcrypt.Cipher { return s.cipher }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
