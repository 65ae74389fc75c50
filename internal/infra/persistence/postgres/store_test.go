package postgres_test

import (
	"casecore/internal/infra/fieldcrypt"
	"casecore/internal/infra/persistence/memory"
	"casecore/internal/infra/persistence/postgres"
	"casecore/pkg/domain"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return db, mock
}

func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS meta").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS age_progression_events").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectVersion(mock sqlmock.Sqlmock, version int64) {
	rows := sqlmock.NewRows([]string{"value"})
	if version > 0 {
		rows.AddRow(version)
	}
	mock.ExpectQuery("SELECT value FROM meta").WillReturnRows(rows)
}

// expectOpen covers NewStore against an empty database.
func expectOpen(mock sqlmock.Sqlmock) {
	expectSchema(mock)
	expectVersion(mock, 0)
	mock.ExpectQuery("SELECT bucket, payload FROM state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}))
}

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectVersionBump(mock sqlmock.Sqlmock, next int64) {
	mock.ExpectExec("INSERT INTO meta").WithArgs(next).WillReturnResult(sqlmock.NewResult(0, 1))
}

// sealedText matches audit values that only open with the given cipher.
type sealedText struct {
	cipher fieldcrypt.Cipher
	plain  string
}

func (m sealedText) Match(v driver.Value) bool {
	text, ok := v.(string)
	if !ok || text == m.plain {
		return false
	}
	opened, err := fieldcrypt.OpenString(m.cipher, text)
	return err == nil && opened == m.plain
}

func expectBucketUpserts(mock sqlmock.Sqlmock) {
	for _, bucket := range memory.Buckets {
		mock.ExpectExec("INSERT INTO state").
			WithArgs(bucket, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func newCipher(t *testing.T) fieldcrypt.Cipher {
	t.Helper()
	encoded, err := fieldcrypt.GenerateKey()
	require.NoError(t, err)
	key, err := fieldcrypt.ParseKey(encoded)
	require.NoError(t, err)
	c, err := fieldcrypt.NewSecretBox(key)
	require.NoError(t, err)
	return c
}

func clock() memory.Option {
	return memory.WithClock(func() time.Time { return fixedNow })
}

func TestNewStoreLoadsSealedSnapshot(t *testing.T) {
	_, mock := newMock(t)
	cipher := newCipher(t)

	seed := memory.Snapshot{Children: map[string]domain.Child{
		"c1": {Base: domain.Base{ID: "c1", CreatedAt: fixedNow}, FirstName: "Ada", LastName: "Lovelace"},
	}}
	payload, err := seed.EncodeBucket(memory.BucketChildren)
	require.NoError(t, err)
	sealed, err := fieldcrypt.SealJSON(cipher, payload)
	require.NoError(t, err)

	expectSchema(mock)
	expectVersion(mock, 4)
	mock.ExpectQuery("SELECT bucket, payload FROM state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).AddRow(memory.BucketChildren, sealed))

	store, err := postgres.NewStore(context.Background(), "", nil, cipher, clock())
	require.NoError(t, err)
	expectVersion(mock, 4)
	require.NoError(t, store.View(context.Background(), func(v domain.TransactionView) error {
		child, ok := v.FindChild("c1")
		require.True(t, ok)
		assert.Equal(t, "Ada", child.FirstName)
		return nil
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStorePingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil }))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = postgres.NewStore(context.Background(), "postgres://example", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreClosesHandleOnSetupFailure(t *testing.T) {
	t.Run("schema", func(t *testing.T) {
		_, mock := newMock(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnError(errors.New("permission denied"))
		mock.ExpectClose()

		_, err := postgres.NewStore(context.Background(), "", nil, nil)
		require.ErrorContains(t, err, "ensure schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("snapshot", func(t *testing.T) {
		_, mock := newMock(t)
		expectSchema(mock)
		expectVersion(mock, 1)
		mock.ExpectQuery("SELECT bucket, payload FROM state").WillReturnError(errors.New("relation missing"))
		mock.ExpectClose()

		_, err := postgres.NewStore(context.Background(), "", nil, nil)
		require.ErrorContains(t, err, "relation missing")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewStoreOpenFailure(t *testing.T) {
	t.Cleanup(postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") }))
	_, err := postgres.NewStore(context.Background(), "", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres")
}

func TestRunInTransactionMirrorsAppendOnlyRows(t *testing.T) {
	_, mock := newMock(t)
	expectOpen(mock)

	store, err := postgres.NewStore(context.Background(), "", nil, newCipher(t), clock())
	require.NoError(t, err)

	expectLock(mock)
	expectVersion(mock, 0)
	expectBucketUpserts(mock)
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), nil, domain.SystemLabel, string(domain.EntityChild), sqlmock.AnyArg(),
			string(domain.AuditCreated), "", nil, nil, sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO age_progression_events").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), string(domain.AgeInfant), string(domain.AgeToddler),
			domain.DateOf(fixedNow), 19, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectVersionBump(mock, 1)
	mock.ExpectCommit()

	_, err = store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		child, err := tx.CreateChild(domain.Child{FirstName: "Ada", LastName: "Lovelace"})
		if err != nil {
			return err
		}
		if _, err := tx.AppendAuditEntry(domain.AuditLogEntry{
			ActorLabel: domain.SystemLabel,
			EntityType: domain.EntityChild,
			EntityID:   child.ID,
			Action:     domain.AuditCreated,
		}); err != nil {
			return err
		}
		_, err = tx.CreateProgressionEvent(domain.AgeProgressionEvent{
			ChildID:          child.ID,
			PreviousCategory: domain.AgeInfant,
			NewCategory:      domain.AgeToddler,
			TransitionDate:   domain.DateOf(fixedNow),
			AgeInMonths:      19,
		})
		return err
	})
	require.NoError(t, err)

	// a second unit of work rewrites the buckets without re-mirroring earlier rows
	expectLock(mock)
	expectVersion(mock, 1)
	expectBucketUpserts(mock)
	expectVersionBump(mock, 2)
	mock.ExpectCommit()
	_, err = store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{FirstName: "Grace", LastName: "Hopper"})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	_, mock := newMock(t)
	expectOpen(mock)

	store, err := postgres.NewStore(context.Background(), "", nil, nil, clock())
	require.NoError(t, err)

	expectLock(mock)
	expectVersion(mock, 0)
	mock.ExpectExec("INSERT INTO state").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	expectVersion(mock, 0)

	_, err = store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{FirstName: "Ada", LastName: "Lovelace"})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, store.View(context.Background(), func(v domain.TransactionView) error {
		assert.Empty(t, v.ListChildren())
		return nil
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawBucketsReturnsStoredPayloads(t *testing.T) {
	_, mock := newMock(t)
	expectOpen(mock)
	store, err := postgres.NewStore(context.Background(), "", nil, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT bucket, payload FROM state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).AddRow(memory.BucketUsers, []byte(`{}`)))
	raw, err := store.RawBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), raw[memory.BucketUsers])
	assert.False(t, store.Cipher().Enabled())
}

func TestRunInTransactionReloadsStateCommittedElsewhere(t *testing.T) {
	_, mock := newMock(t)
	expectOpen(mock)
	store, err := postgres.NewStore(context.Background(), "", nil, nil, clock())
	require.NoError(t, err)

	// another process committed version 3 with its own child and audit row
	elsewhere := memory.Snapshot{
		Children: map[string]domain.Child{"c9": {Base: domain.Base{ID: "c9", CreatedAt: fixedNow}, FirstName: "Grace"}},
		AuditLog: []domain.AuditLogEntry{{ID: "a9", EntityType: domain.EntityChild, EntityID: "c9", Action: domain.AuditCreated, Timestamp: fixedNow}},
	}
	children, err := elsewhere.EncodeBucket(memory.BucketChildren)
	require.NoError(t, err)
	audit, err := elsewhere.EncodeBucket(memory.BucketAuditLog)
	require.NoError(t, err)

	expectLock(mock)
	expectVersion(mock, 3)
	mock.ExpectQuery("SELECT bucket, payload FROM state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).
			AddRow(memory.BucketChildren, children).
			AddRow(memory.BucketAuditLog, audit))
	expectBucketUpserts(mock)
	// only the new row is mirrored; a9 was mirrored by its writer
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("a10", nil, domain.SystemLabel, string(domain.EntityChild), "c10",
			string(domain.AuditCreated), "", nil, nil, sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectVersionBump(mock, 4)
	mock.ExpectCommit()

	_, err = store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		if _, err := tx.CreateChild(domain.Child{Base: domain.Base{ID: "c10"}, FirstName: "Ada", LastName: "Lovelace"}); err != nil {
			return err
		}
		_, err := tx.AppendAuditEntry(domain.AuditLogEntry{
			ID:         "a10",
			ActorLabel: domain.SystemLabel,
			EntityType: domain.EntityChild,
			EntityID:   "c10",
			Action:     domain.AuditCreated,
		})
		return err
	})
	require.NoError(t, err)
	state := store.ExportState()
	assert.Contains(t, state.Children, "c9")
	assert.Contains(t, state.Children, "c10")
	assert.Len(t, state.AuditLog, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirroredAuditValuesAreSealed(t *testing.T) {
	_, mock := newMock(t)
	expectOpen(mock)
	cipher := newCipher(t)
	store, err := postgres.NewStore(context.Background(), "", nil, cipher, clock())
	require.NoError(t, err)

	oldPhone, newPhone := "555-0100", "555-0199"
	expectLock(mock)
	expectVersion(mock, 0)
	expectBucketUpserts(mock)
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), nil, domain.SystemLabel, string(domain.EntityChild), "c1",
			string(domain.AuditUpdated), "guardian_phone",
			sealedText{cipher: cipher, plain: oldPhone}, sealedText{cipher: cipher, plain: newPhone},
			sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectVersionBump(mock, 1)
	mock.ExpectCommit()

	_, err = store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		_, err := tx.AppendAuditEntry(domain.AuditLogEntry{
			ActorLabel: domain.SystemLabel,
			EntityType: domain.EntityChild,
			EntityID:   "c1",
			Action:     domain.AuditUpdated,
			FieldName:  "guardian_phone",
			OldValue:   &oldPhone,
			NewValue:   &newPhone,
		})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
