package iocli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestPrintlnAndPrintf(t *testing.T) {
	var out bytes.Buffer
	stdio := New(strings.NewReader(""), &out)

	stdio.Println("hello", "world")
	stdio.Printf("test %d %s", 1, "abc")
	_, err := stdio.Write([]byte("!"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\ntest 1 abc!", out.String())
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{
			name:  "several lines share one buffer",
			input: "first\n  second  \n",
			want:  []string{"first", "second"},
		},
		{
			name:  "last line without newline",
			input: "only",
			want:  []string{"only"},
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			stdio := New(strings.NewReader(tt.input), &out)

			for _, want := range tt.want {
				got, err := stdio.ReadInput("> ")
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			_, err := stdio.ReadInput("> ")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.ErrorIs(t, err, io.EOF)
			}
			assert.True(t, strings.HasPrefix(out.String(), "> "))
		})
	}
}

func TestReadPassword_NotTerminal(t *testing.T) {
	var out bytes.Buffer
	stdio := New(strings.NewReader("correct horse battery\n"), &out)

	assert.False(t, stdio.IsTerminal())

	pass, err := stdio.ReadPassword("Passphrase: ")
	require.NoError(t, err)
	assert.Equal(t, "correct horse battery", pass)
	assert.Equal(t, "Passphrase: ", out.String())
}
