package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/replica"
	"github.com/iudanet/gophsync/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStoreMock(fail *atomic.Bool) *storage.SnapshotStoreMock {
	return &storage.SnapshotStoreMock{
		SaveSnapshotFunc: func(ctx context.Context, documentID string, data []byte) error {
			if fail != nil && fail.Load() {
				return errors.New("disk full")
			}
			return nil
		},
		LoadSnapshotFunc: func(ctx context.Context, documentID string) ([]byte, error) {
			return nil, storage.ErrSnapshotNotFound
		},
	}
}

func TestScheduler_DebouncesBurst(t *testing.T) {
	r := replica.NewStore().Acquire("doc-42")
	store := newStoreMock(nil)
	s := NewScheduler(r, store, testLogger(), WithDelay(50*time.Millisecond))
	defer s.Stop()

	for i := range 20 {
		require.NoError(t, r.Insert(i, "x"))
		s.Schedule()
	}

	assert.Eventually(t, func() bool { return len(store.SaveSnapshotCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(store.SaveSnapshotCalls()) > 1 }, 200*time.Millisecond, 20*time.Millisecond)

	call := store.SaveSnapshotCalls()[0]
	assert.Equal(t, "doc-42", call.DocumentID)
	assert.Equal(t, r.EncodeFull(), call.Data, "snapshot must contain the final state")
	assert.False(t, s.Pending())
	assert.Equal(t, 1, s.Stats().Saves)
}

func TestScheduler_FlushSavesImmediately(t *testing.T) {
	r := replica.NewStore().Acquire("doc")
	store := newStoreMock(nil)
	s := NewScheduler(r, store, testLogger(), WithDelay(time.Hour))

	// нечего сохранять
	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, store.SaveSnapshotCalls())

	require.NoError(t, r.Insert(0, "pending edit"))
	s.Schedule()
	assert.True(t, s.Pending())

	require.NoError(t, s.Flush(context.Background()))
	require.Len(t, store.SaveSnapshotCalls(), 1)
	assert.False(t, s.Pending())

	// таймер отменен, повторной записи нет
	require.NoError(t, s.Flush(context.Background()))
	assert.Len(t, store.SaveSnapshotCalls(), 1)
}

func TestScheduler_FailureIsNotRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	var callbackErr atomic.Value
	r := replica.NewStore().Acquire("doc")
	store := newStoreMock(&fail)
	s := NewScheduler(r, store, testLogger(),
		WithDelay(20*time.Millisecond),
		OnSaved(func(err error) {
			if err != nil {
				callbackErr.Store(err)
			}
		}),
	)
	defer s.Stop()

	require.NoError(t, r.Insert(0, "a"))
	s.Schedule()

	assert.Eventually(t, func() bool { return callbackErr.Load() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(store.SaveSnapshotCalls()) > 1 }, 150*time.Millisecond, 10*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Error(t, stats.LastError)
	assert.True(t, s.Pending(), "failed save keeps the document dirty")

	fail.Store(false)
	require.NoError(t, s.Flush(context.Background()))
	assert.Len(t, store.SaveSnapshotCalls(), 2)
	assert.False(t, s.Pending())
	assert.NoError(t, s.Stats().LastError)
}

func TestScheduler_SaveTimeout(t *testing.T) {
	r := replica.NewStore().Acquire("doc")
	store := &storage.SnapshotStoreMock{
		SaveSnapshotFunc: func(ctx context.Context, documentID string, data []byte) error {
			// хранилище зависло
			<-ctx.Done()
			return ctx.Err()
		},
	}

	saved := make(chan error, 1)
	s := NewScheduler(r, store, testLogger(),
		WithDelay(10*time.Millisecond),
		WithSaveTimeout(30*time.Millisecond),
		OnSaved(func(err error) { saved <- err }),
	)
	defer s.Stop()

	require.NoError(t, r.Insert(0, "a"))
	s.Schedule()

	select {
	case err := <-saved:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("save did not time out")
	}

	assert.Equal(t, 1, s.Stats().Failures)
	assert.True(t, s.Pending())
}

func TestScheduler_StopCancelsTimer(t *testing.T) {
	r := replica.NewStore().Acquire("doc")
	store := newStoreMock(nil)
	s := NewScheduler(r, store, testLogger(), WithDelay(30*time.Millisecond))

	require.NoError(t, r.Insert(0, "a"))
	s.Schedule()
	s.Stop()
	s.Schedule()

	assert.Never(t, func() bool { return len(store.SaveSnapshotCalls()) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	source := replica.NewStore().Acquire("doc")
	require.NoError(t, source.Insert(0, "saved text"))

	tests := []struct {
		load      func(ctx context.Context, documentID string) ([]byte, error)
		name      string
		wantText  string
		wantFound bool
		wantErr   bool
	}{
		{
			name:     "not found",
			load:     func(context.Context, string) ([]byte, error) { return nil, storage.ErrSnapshotNotFound },
			wantText: "",
		},
		{
			name:      "restored",
			load:      func(context.Context, string) ([]byte, error) { return source.EncodeFull(), nil },
			wantText:  "saved text",
			wantFound: true,
		},
		{
			name:    "store error",
			load:    func(context.Context, string) ([]byte, error) { return nil, errors.New("connection refused") },
			wantErr: true,
		},
		{
			name:    "corrupted snapshot",
			load:    func(context.Context, string) ([]byte, error) { return []byte{0xff, 0xff}, nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := replica.NewStore().Acquire("doc")
			store := &storage.SnapshotStoreMock{LoadSnapshotFunc: tt.load}

			found, err := Restore(ctx, store, "doc", func(data []byte) error {
				return target.ApplyUpdate(data, replica.OriginSnapshot)
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantText, target.Text())
		})
	}
}
