package crdt

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

type opKind uint8

const (
	opInsert opKind = iota + 1 // вставка символа после origin
	opDelete                   // удаление символа target
	opSet                      // запись ключа в LWW-карту
)

// op одна операция над документом. Обновление это упорядоченный список операций.
type op struct {
	value     []byte
	key       string
	id        ID
	origin    ID
	target    ID
	lamport   uint64
	kind      opKind
	hasOrigin bool // false означает вставку в начало текста
	deleted   bool // для opSet: удаление ключа
}

// dep возвращает ID операции, без которой эту операцию нельзя интегрировать.
func (o *op) dep() (ID, bool) {
	switch o.kind {
	case opInsert:
		return o.origin, o.hasOrigin
	case opDelete:
		return o.target, true
	default:
		return ID{}, false
	}
}

const (
	fieldUpdateOp protowire.Number = 1

	fieldOpClient       protowire.Number = 1
	fieldOpClock        protowire.Number = 2
	fieldOpLamport      protowire.Number = 3
	fieldOpKind         protowire.Number = 4
	fieldOpOriginClient protowire.Number = 5
	fieldOpOriginClock  protowire.Number = 6
	fieldOpTargetClient protowire.Number = 7
	fieldOpTargetClock  protowire.Number = 8
	fieldOpKey          protowire.Number = 9
	fieldOpValue        protowire.Number = 10
	fieldOpDeleted      protowire.Number = 11
	fieldOpHasOrigin    protowire.Number = 12
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendOp(b []byte, o *op) []byte {
	var m []byte
	m = appendVarintField(m, fieldOpClient, o.id.Client)
	m = appendVarintField(m, fieldOpClock, o.id.Clock)
	m = appendVarintField(m, fieldOpLamport, o.lamport)
	m = appendVarintField(m, fieldOpKind, uint64(o.kind))

	switch o.kind {
	case opInsert:
		if o.hasOrigin {
			m = appendVarintField(m, fieldOpHasOrigin, 1)
			m = appendVarintField(m, fieldOpOriginClient, o.origin.Client)
			m = appendVarintField(m, fieldOpOriginClock, o.origin.Clock)
		}
		m = protowire.AppendTag(m, fieldOpValue, protowire.BytesType)
		m = protowire.AppendBytes(m, o.value)
	case opDelete:
		m = appendVarintField(m, fieldOpTargetClient, o.target.Client)
		m = appendVarintField(m, fieldOpTargetClock, o.target.Clock)
	case opSet:
		m = protowire.AppendTag(m, fieldOpKey, protowire.BytesType)
		m = protowire.AppendString(m, o.key)
		if o.deleted {
			m = appendVarintField(m, fieldOpDeleted, 1)
		} else {
			m = protowire.AppendTag(m, fieldOpValue, protowire.BytesType)
			m = protowire.AppendBytes(m, o.value)
		}
	}

	b = protowire.AppendTag(b, fieldUpdateOp, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// encodeOps кодирует список операций в update
func encodeOps(ops []*op) []byte {
	var out []byte
	for _, o := range ops {
		out = appendOp(out, o)
	}
	return out
}

// decodeOps декодирует update целиком. Частично прочитанный update отбрасывается.
func decodeOps(data []byte) ([]*op, error) {
	var ops []*op
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: update tag: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldUpdateOp || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: update field: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: op: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		o, err := decodeOp(raw)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func decodeOp(data []byte) (*op, error) {
	o := &op{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: op tag: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: op varint: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]

			switch num {
			case fieldOpClient:
				o.id.Client = v
			case fieldOpClock:
				o.id.Clock = v
			case fieldOpLamport:
				o.lamport = v
			case fieldOpKind:
				o.kind = opKind(v)
			case fieldOpOriginClient:
				o.origin.Client = v
			case fieldOpOriginClock:
				o.origin.Clock = v
			case fieldOpTargetClient:
				o.target.Client = v
			case fieldOpTargetClock:
				o.target.Clock = v
			case fieldOpDeleted:
				o.deleted = v != 0
			case fieldOpHasOrigin:
				o.hasOrigin = v != 0
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: op bytes: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]

			switch num {
			case fieldOpKey:
				o.key = string(v)
			case fieldOpValue:
				o.value = append([]byte(nil), v...)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: op field: %v", ErrMalformedUpdate, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *op) validate() error {
	if o.lamport == 0 {
		return fmt.Errorf("%w: op %s has zero lamport timestamp", ErrMalformedUpdate, o.id)
	}
	switch o.kind {
	case opInsert:
		r, size := utf8.DecodeRune(o.value)
		if size == 0 || size != len(o.value) || (r == utf8.RuneError && size == 1) {
			return fmt.Errorf("%w: op %s must carry exactly one rune", ErrMalformedUpdate, o.id)
		}
	case opDelete:
	case opSet:
		if o.key == "" {
			return fmt.Errorf("%w: op %s has empty key", ErrMalformedUpdate, o.id)
		}
	default:
		return fmt.Errorf("%w: op %s has unknown kind %d", ErrMalformedUpdate, o.id, o.kind)
	}
	return nil
}
