package models

import "time"

// Snapshot сохраненное полное состояние документа.
type Snapshot struct {
	UpdatedAt  time.Time `json:"updated_at"`  // UpdatedAt время сохранения
	DocumentID string    `json:"document_id"` // DocumentID идентификатор документа
	Content    string    `json:"content"`     // Content полное состояние в base64
	Checksum   string    `json:"checksum"`    // Checksum SHA-256 от бинарного состояния (hex)
}
