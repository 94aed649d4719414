// Package encrypted шифрует snapshot перед записью в любое SnapshotStore.
package encrypted

import (
	"context"
	"fmt"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/storage"
)

// Storage decorates a SnapshotStore with AES-256-GCM encryption.
// The document ID is bound as associated data, so a snapshot copied under another ID fails to open.
type Storage struct {
	next storage.SnapshotStore
	key  []byte
}

// New оборачивает next. key должен быть длиной crypto.KeySize.
func New(next storage.SnapshotStore, key []byte) (*Storage, error) {
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", crypto.KeySize, len(key))
	}
	return &Storage{next: next, key: append([]byte(nil), key...)}, nil
}

// SaveSnapshot шифрует и сохраняет snapshot
func (s *Storage) SaveSnapshot(ctx context.Context, documentID string, data []byte) error {
	sealed, err := crypto.Seal(data, s.key, []byte(documentID))
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}
	return s.next.SaveSnapshot(ctx, documentID, sealed)
}

// LoadSnapshot загружает и расшифровывает snapshot
func (s *Storage) LoadSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	sealed, err := s.next.LoadSnapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}

	data, err := crypto.Open(sealed, s.key, []byte(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot %s: %w", documentID, err)
	}
	return data, nil
}
