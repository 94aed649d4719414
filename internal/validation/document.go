package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iudanet/gophsync/internal/channel"
)

// DocumentIDPattern определяет допустимый формат идентификатора документа
// Латинские буквы, цифры, '_', '-', '.'; длина 1-128 символов
var DocumentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,128}$`)

const (
	// MaxDocumentIDLen максимальная длина идентификатора документа
	MaxDocumentIDLen = 128
	// MinPassphraseLen минимальная длина пароля шифрования snapshot
	MinPassphraseLen = 12
)

// ValidateDocumentID проверяет идентификатор документа.
// Идентификатор входит в имя темы и ключ хранилища, поэтому набор символов ограничен.
func ValidateDocumentID(documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(documentID) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d characters", MaxDocumentIDLen)
	}

	if !DocumentIDPattern.MatchString(documentID) {
		return fmt.Errorf("document id can only contain letters (a-z, A-Z), numbers (0-9), '_', '-' and '.'")
	}

	return nil
}

// ValidateTopic проверяет имя темы вида doc:{documentId} и возвращает идентификатор документа.
func ValidateTopic(topic string) (string, error) {
	prefix := channel.Topic("")
	documentID, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", fmt.Errorf("topic must start with %q", prefix)
	}

	if err := ValidateDocumentID(documentID); err != nil {
		return "", err
	}
	return documentID, nil
}

// ValidatePassphrase проверяет минимальные требования к паролю шифрования snapshot
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}

	if len(passphrase) < MinPassphraseLen {
		return fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLen)
	}

	return nil
}
