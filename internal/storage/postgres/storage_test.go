package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/storage"
)

// createTestStorage подключается к базе из GOPHSYNC_TEST_POSTGRES или пропускает тест
func createTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := os.Getenv("GOPHSYNC_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("GOPHSYNC_TEST_POSTGRES is not set")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = store.pool.Exec(ctx, "DELETE FROM document_snapshots WHERE document_id LIKE 'test-%'")
		store.Close()
	})
	return store
}

func TestStorage_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	require.NoError(t, store.SaveSnapshot(ctx, "test-doc", []byte("v1")))
	require.NoError(t, store.SaveSnapshot(ctx, "test-doc", []byte("v2")))

	loaded, err := store.LoadSnapshot(ctx, "test-doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), loaded)
}

func TestStorage_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.LoadSnapshot(context.Background(), "test-missing")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}
