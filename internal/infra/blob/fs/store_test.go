package fs

import (
	"casecore/internal/blob/core"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, s.Driver())

	info, err := s.Put(ctx, "exports/audit/2024.jsonl", strings.NewReader("line\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"rows": "1"}})
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.Len(t, info.ETag, 64)

	_, err = s.Put(ctx, "exports/audit/2024.jsonl", strings.NewReader("again"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "exports/audit/2024.jsonl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(body))
	assert.Equal(t, "application/x-ndjson", got.ContentType)
	assert.Equal(t, "1", got.Metadata["rows"])

	_, err = s.Put(ctx, "exports/progressions/2024.jsonl", strings.NewReader("p"), core.PutOptions{})
	require.NoError(t, err)
	all, err := s.List(ctx, "exports/")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "exports/audit/2024.jsonl", all[0].Key)
	audit, err := s.List(ctx, "exports/audit")
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	deleted, err := s.Delete(ctx, "exports/audit/2024.jsonl")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, statErr := os.Stat(filepath.Join(s.Root(), "exports", "audit", "2024.jsonl.meta"))
	assert.True(t, os.IsNotExist(statErr))

	deleted, err = s.Delete(ctx, "exports/audit/2024.jsonl")
	require.NoError(t, err)
	assert.False(t, deleted)
	_, _, err = s.Get(ctx, "exports/audit/2024.jsonl")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "  ", "/abs", "../up", "a/../../b", "x.meta"} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{})
		assert.Error(t, err, key)
	}
}
