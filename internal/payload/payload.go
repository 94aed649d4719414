// Package payload переводит бинарные CRDT-обновления в текстовый вид для JSON транспорта.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ChunkSize is the number of raw bytes encoded per step.
// Multiple of 3, so chunks never carry padding and concatenate into a valid base64 string.
const ChunkSize = 3 * 0x2000

// encodedChunkSize длина одного закодированного чанка (без padding)
const encodedChunkSize = ChunkSize / 3 * 4

// ErrInvalidPayload indicates that a text payload is not valid base64
var ErrInvalidPayload = errors.New("invalid payload encoding")

// Encode кодирует бинарные данные в base64 чанками.
// Результат совпадает с base64.StdEncoding.EncodeToString(data).
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))

	buf := make([]byte, base64.StdEncoding.EncodedLen(min(ChunkSize, len(data))))
	for start := 0; start < len(data); start += ChunkSize {
		end := min(start+ChunkSize, len(data))
		n := base64.StdEncoding.EncodedLen(end - start)
		base64.StdEncoding.Encode(buf[:n], data[start:end])
		sb.Write(buf[:n])
	}

	return sb.String()
}

// Decode декодирует строку, полученную через Encode.
// Пустая строка дает пустой срез.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalidPayload, len(s))
	}

	out := make([]byte, 0, base64.StdEncoding.DecodedLen(len(s)))
	buf := make([]byte, ChunkSize)

	for start := 0; start < len(s); start += encodedChunkSize {
		end := min(start+encodedChunkSize, len(s))

		n, err := base64.StdEncoding.Decode(buf, []byte(s[start:end]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		// padding допустим только в последнем чанке
		if end < len(s) && n != ChunkSize {
			return nil, fmt.Errorf("%w: padding before end of input", ErrInvalidPayload)
		}

		out = append(out, buf[:n]...)
	}

	return out, nil
}
