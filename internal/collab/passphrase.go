package collab

import (
	"fmt"
	"os"
	"strings"

	"github.com/iudanet/gophsync/internal/iocli"
	"github.com/iudanet/gophsync/internal/validation"
)

// Passphrases источники пароля шифрования snapshot
type Passphrases struct {
	FromEnv  string
	FromFile string
}

// ReadPassphrase получает пароль шифрования snapshot из источников по приоритету:
// 1. Переменная окружения GOPHSYNC_PASSPHRASE (FromEnv)
// 2. Файл FromFile
// 3. Интерактивный ввод
func ReadPassphrase(console iocli.IO, sources Passphrases) (string, error) {
	passphrase, err := passphraseFrom(console, sources)
	if err != nil {
		return "", err
	}

	if err := validation.ValidatePassphrase(passphrase); err != nil {
		return "", fmt.Errorf("invalid passphrase: %w", err)
	}
	return passphrase, nil
}

func passphraseFrom(console iocli.IO, sources Passphrases) (string, error) {
	if sources.FromEnv != "" {
		return sources.FromEnv, nil
	}

	if sources.FromFile != "" {
		content, err := os.ReadFile(sources.FromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Убираем trailing newline/whitespace
		passphrase := strings.TrimSpace(string(content))
		if passphrase == "" {
			return "", fmt.Errorf("passphrase file is empty")
		}
		return passphrase, nil
	}

	passphrase, err := console.ReadPassword("Snapshot passphrase: ")
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}
