package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Checksum возвращает SHA-256 от данных в hex.
// Используется для проверки целостности snapshot после чтения из хранилища.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum сравнивает checksum данных с ожидаемым за постоянное время.
func VerifyChecksum(data []byte, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(Checksum(data)), []byte(expected)) == 1
}
