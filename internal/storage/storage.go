// Package storage описывает хранилище snapshot документов и общие для адаптеров помощники.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/payload"
)

//go:generate moq -out snapshotstore_mock.go . SnapshotStore

// SnapshotStore сохраняет полное состояние документа.
// Save перезаписывает предыдущий snapshot, Load возвращает ErrSnapshotNotFound для неизвестного документа.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, documentID string) ([]byte, error)
	SaveSnapshot(ctx context.Context, documentID string, data []byte) error
}

// Store SnapshotStore, владеющий соединением с базой.
type Store interface {
	SnapshotStore
	Close() error
}

// NewSnapshot упаковывает бинарное состояние документа для записи в хранилище.
func NewSnapshot(documentID string, data []byte, now time.Time) *models.Snapshot {
	return &models.Snapshot{
		DocumentID: documentID,
		Content:    payload.Encode(data),
		Checksum:   crypto.Checksum(data),
		UpdatedAt:  now.UTC(),
	}
}

// DecodeSnapshot распаковывает snapshot и проверяет checksum.
func DecodeSnapshot(s *models.Snapshot) ([]byte, error) {
	data, err := payload.Decode(s.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.DocumentID, err)
	}
	if !crypto.VerifyChecksum(data, s.Checksum) {
		return nil, fmt.Errorf("snapshot %s: %w", s.DocumentID, ErrChecksumMismatch)
	}
	return data, nil
}
