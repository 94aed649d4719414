package awareness

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/iudanet/gophsync/internal/models"
)

// ErrMalformedUpdate is returned when an awareness update cannot be decoded
var ErrMalformedUpdate = errors.New("malformed awareness update")

// entry запись одного клиента. state == nil означает удаление.
type entry struct {
	state  *models.AwarenessState
	client uint64
	clock  int64
}

const (
	fieldEntry  protowire.Number = 1
	fieldClient protowire.Number = 1
	fieldClock  protowire.Number = 2
	fieldState  protowire.Number = 3
)

func encodeEntries(entries []entry) []byte {
	var out []byte
	for _, e := range entries {
		var m []byte
		m = protowire.AppendTag(m, fieldClient, protowire.VarintType)
		m = protowire.AppendVarint(m, e.client)
		m = protowire.AppendTag(m, fieldClock, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(e.clock))
		if e.state != nil {
			// AwarenessState состоит из сериализуемых полей, ошибка невозможна
			body, _ := json.Marshal(e.state)
			m = protowire.AppendTag(m, fieldState, protowire.BytesType)
			m = protowire.AppendBytes(m, body)
		}

		out = protowire.AppendTag(out, fieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, m)
	}
	return out
}

func decodeEntries(data []byte) ([]entry, error) {
	var entries []entry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		e, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(data []byte) (entry, error) {
	var e entry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return entry{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case (num == fieldClient || num == fieldClock) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return entry{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
			if num == fieldClient {
				e.client = v
			} else {
				e.clock = int64(v)
			}
		case num == fieldState && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return entry{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]

			var state models.AwarenessState
			if err := json.Unmarshal(body, &state); err != nil {
				return entry{}, fmt.Errorf("%w: state of client %d: %v", ErrMalformedUpdate, e.client, err)
			}
			e.state = &state
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return entry{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if e.client == 0 {
		return entry{}, fmt.Errorf("%w: entry without client id", ErrMalformedUpdate)
	}
	return e, nil
}
