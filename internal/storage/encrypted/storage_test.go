package encrypted

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/storage"
)

// memoryStore простое хранилище в памяти поверх moq-мока
func memoryStore() *storage.SnapshotStoreMock {
	saved := map[string][]byte{}
	return &storage.SnapshotStoreMock{
		SaveSnapshotFunc: func(ctx context.Context, documentID string, data []byte) error {
			saved[documentID] = data
			return nil
		},
		LoadSnapshotFunc: func(ctx context.Context, documentID string) ([]byte, error) {
			data, ok := saved[documentID]
			if !ok {
				return nil, storage.ErrSnapshotNotFound
			}
			return data, nil
		},
	}
}

func TestStorage_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	inner := memoryStore()
	key := bytes.Repeat([]byte{7}, crypto.KeySize)

	store, err := New(inner, key)
	require.NoError(t, err)

	plaintext := []byte("hello world")
	require.NoError(t, store.SaveSnapshot(ctx, "doc-42", plaintext))

	calls := inner.SaveSnapshotCalls()
	require.Len(t, calls, 1)
	assert.NotContains(t, string(calls[0].Data), "hello")

	loaded, err := store.LoadSnapshot(ctx, "doc-42")
	require.NoError(t, err)
	assert.Equal(t, plaintext, loaded)
}

func TestStorage_Errors(t *testing.T) {
	ctx := context.Background()
	inner := memoryStore()

	_, err := New(inner, []byte("short"))
	assert.Error(t, err)

	store, err := New(inner, bytes.Repeat([]byte{1}, crypto.KeySize))
	require.NoError(t, err)

	_, err = store.LoadSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	// snapshot другого документа не расшифровывается под чужим ID
	require.NoError(t, store.SaveSnapshot(ctx, "doc-a", []byte("a")))
	stolen, err := inner.LoadSnapshot(ctx, "doc-a")
	require.NoError(t, err)
	require.NoError(t, inner.SaveSnapshot(ctx, "doc-b", stolen))

	_, err = store.LoadSnapshot(ctx, "doc-b")
	assert.ErrorIs(t, err, crypto.ErrDecrypt)

	other, err := New(inner, bytes.Repeat([]byte{2}, crypto.KeySize))
	require.NoError(t, err)
	_, err = other.LoadSnapshot(ctx, "doc-a")
	assert.ErrorIs(t, err, crypto.ErrDecrypt)
}
