package crdt

import (
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// ID однозначно идентифицирует операцию: клиент и порядковый номер операции этого клиента.
type ID struct {
	Client uint64
	Clock  uint64
}

// String returns "client:clock"
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// StateVector maps a client ID to the next clock expected from that client.
// A replica with StateVector{7: 3} has integrated operations 7:0, 7:1 and 7:2.
type StateVector map[uint64]uint64

// Clone returns a copy of the state vector.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	maps.Copy(out, sv)
	return out
}

// Covers reports whether sv has seen every operation other has seen.
func (sv StateVector) Covers(other StateVector) bool {
	for client, clock := range other {
		if sv[client] < clock {
			return false
		}
	}
	return true
}

// Equal reports whether both vectors describe the same set of operations.
func (sv StateVector) Equal(other StateVector) bool {
	return sv.Covers(other) && other.Covers(sv)
}

// clients возвращает ID клиентов в отсортированном порядке для детерминированного кодирования
func (sv StateVector) clients() []uint64 {
	return slices.Sorted(maps.Keys(sv))
}

const (
	fieldSVEntry  protowire.Number = 1
	fieldSVClient protowire.Number = 1
	fieldSVClock  protowire.Number = 2
)

// EncodeStateVector кодирует state vector в бинарный вид.
// Пустой вектор кодируется пустым срезом.
func EncodeStateVector(sv StateVector) []byte {
	var out []byte
	for _, client := range sv.clients() {
		clock := sv[client]
		if clock == 0 {
			continue
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldSVClient, protowire.VarintType)
		entry = protowire.AppendVarint(entry, client)
		entry = protowire.AppendTag(entry, fieldSVClock, protowire.VarintType)
		entry = protowire.AppendVarint(entry, clock)

		out = protowire.AppendTag(out, fieldSVEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

// DecodeStateVector декодирует state vector, закодированный EncodeStateVector.
func DecodeStateVector(data []byte) (StateVector, error) {
	sv := make(StateVector)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: state vector tag: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldSVEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: state vector field: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: state vector entry: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		client, clock, err := decodeSVEntry(entry)
		if err != nil {
			return nil, err
		}
		if clock > sv[client] {
			sv[client] = clock
		}
	}
	return sv, nil
}

func decodeSVEntry(data []byte) (client, clock uint64, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, 0, fmt.Errorf("%w: state vector entry tag: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.VarintType || (num != fieldSVClient && num != fieldSVClock) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, 0, fmt.Errorf("%w: state vector entry field: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, 0, fmt.Errorf("%w: state vector varint: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldSVClient {
			client = v
		} else {
			clock = v
		}
	}
	return client, clock, nil
}
