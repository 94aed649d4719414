package payload

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestEncode_MatchesOneShot(t *testing.T) {
	sizes := []int{0, 1, 2, 3, 4, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 2}

	for _, size := range sizes {
		data := makeBytes(size)

		encoded := Encode(data)
		assert.Equal(t, base64.StdEncoding.EncodeToString(data), encoded, "size %d", size)

		decoded, err := Decode(encoded)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, data, decoded, "size %d", size)
	}
}

func TestDecode_Empty(t *testing.T) {
	decoded, err := Decode("")
	require.NoError(t, err)
	assert.NotNil(t, decoded)
	assert.Empty(t, decoded)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "bad length", input: "abc"},
		{name: "bad alphabet", input: "ab$="},
		{name: "padding inside", input: "AA==AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestDecode_PaddingInsideChunkBoundary(t *testing.T) {
	// первый чанк заканчивается padding, дальше идут данные
	first := base64.StdEncoding.EncodeToString(makeBytes(ChunkSize - 1))
	for len(first) < encodedChunkSize {
		first += "="
	}
	_, err := Decode(first + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
