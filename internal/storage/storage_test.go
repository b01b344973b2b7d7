package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

func TestFSStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, ModelKey("v1"), []byte(`{"a":1}`), "application/json"))
	require.NoError(t, s.Put(ctx, UploadKey("job-1", ".png"), []byte("png"), "image/png"))

	b, err := s.Get(ctx, "models/v1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	keys, err := s.List(ctx, PrefixModels)
	require.NoError(t, err)
	assert.Equal(t, []string{"models/v1.json"}, keys)

	require.NoError(t, s.Delete(ctx, "models/v1.json"))
	require.NoError(t, s.Delete(ctx, "models/v1.json"))
	_, err = s.Get(ctx, "models/v1.json")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFSStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "backups/x.json", []byte("one"), ""))
	require.NoError(t, s.Put(ctx, "backups/x.json", []byte("two"), ""))
	b, err := s.Get(ctx, "backups/x.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))
}

func TestCleanKeyRejectsTraversal(t *testing.T) {
	for _, k := range []string{"", "  ", "../etc/passwd", "a/../../b", "a//b", "./a"} {
		_, err := cleanKey(k)
		assert.ErrorIs(t, err, common.ErrInvalidInput, k)
	}
	k, err := cleanKey("/models/v1.json")
	require.NoError(t, err)
	assert.Equal(t, "models/v1.json", k)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), common.StorageConfig{Backend: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "fs", s.Type())

	_, err = New(context.Background(), common.StorageConfig{Backend: "tape"})
	assert.Error(t, err)
}
