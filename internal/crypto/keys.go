package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
	// SaltSize - размер соли в байтах
	SaltSize = 32
)

// DocumentSalt возвращает детерминированную соль документа.
// Все участники, знающие passphrase, получают одинаковый ключ без обмена солью.
func DocumentSalt(documentID string) []byte {
	sum := sha256.Sum256([]byte("gophsync/snapshot/" + documentID))
	return sum[:]
}

// DeriveKey генерирует ключ шифрования snapshot из passphrase с помощью Argon2id.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	return argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize), nil
}

// DeriveDocumentKey генерирует ключ snapshot для конкретного документа.
func DeriveDocumentKey(passphrase, documentID string) ([]byte, error) {
	return DeriveKey(passphrase, DocumentSalt(documentID))
}
