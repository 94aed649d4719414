package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocumentID(t *testing.T) {
	tests := []struct {
		name       string
		documentID string
		errMsg     string
		wantErr    bool
	}{
		{
			name:       "valid - simple",
			documentID: "doc-42",
		},
		{
			name:       "valid - uuid",
			documentID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		},
		{
			name:       "valid - dots and underscores",
			documentID: "notes.2024_q1",
		},
		{
			name:       "valid - max length",
			documentID: strings.Repeat("a", MaxDocumentIDLen),
		},
		{
			name:       "invalid - empty",
			documentID: "",
			wantErr:    true,
			errMsg:     "document id cannot be empty",
		},
		{
			name:       "invalid - too long",
			documentID: strings.Repeat("a", MaxDocumentIDLen+1),
			wantErr:    true,
			errMsg:     "must not exceed",
		},
		{
			name:       "invalid - slash",
			documentID: "a/b",
			wantErr:    true,
			errMsg:     "can only contain",
		},
		{
			name:       "invalid - colon",
			documentID: "doc:1",
			wantErr:    true,
			errMsg:     "can only contain",
		},
		{
			name:       "invalid - cyrillic",
			documentID: "документ",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentID(tt.documentID)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		want    string
		wantErr bool
	}{
		{name: "valid", topic: "doc:doc-42", want: "doc-42"},
		{name: "missing prefix", topic: "doc-42", wantErr: true},
		{name: "empty document", topic: "doc:", wantErr: true},
		{name: "nested", topic: "doc:doc:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTopic(tt.topic)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{name: "valid", passphrase: "correct horse battery"},
		{name: "exactly min", passphrase: strings.Repeat("x", MinPassphraseLen)},
		{name: "empty", passphrase: "", wantErr: true},
		{name: "short", passphrase: "secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassphrase(tt.passphrase)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
