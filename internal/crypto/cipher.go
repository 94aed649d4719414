package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// KeySize - размер ключа AES-256
	KeySize = 32
)

// ErrDecrypt indicates that ciphertext is corrupted or was sealed with another key
var ErrDecrypt = errors.New("failed to decrypt: authentication failed or corrupted data")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Seal шифрует данные AES-256-GCM.
// associated привязывает шифротекст к контексту (например, ID документа): Open с другим контекстом не пройдет.
// Формат результата: nonce (12 bytes) + ciphertext + auth_tag (16 bytes).
// Пустой plaintext допустим: пустой документ тоже сохраняется.
func Seal(plaintext, key, associated []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aesGCM.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM дописывает ciphertext и authentication tag после nonce
	return aesGCM.Seal(nonce, nonce, plaintext, associated), nil
}

// Open дешифрует данные, зашифрованные Seal с тем же associated.
func Open(sealed, key, associated []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+aesGCM.Overhead() {
		return nil, fmt.Errorf("%w: sealed data too short", ErrDecrypt)
	}

	plaintext, err := aesGCM.Open(nil, sealed[:NonceSize], sealed[NonceSize:], associated)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
