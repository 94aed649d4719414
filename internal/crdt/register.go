package crdt

import (
	"maps"
	"slices"
)

// entry версия значения ключа в LWW-карте.
type entry struct {
	value   []byte
	lamport uint64
	client  uint64
	deleted bool // soft delete: запись остается, чтобы старые записи не воскрешали ключ
}

// isNewerThan проверяет, является ли запись более новой:
// сначала по timestamp, при равенстве по ID клиента для детерминизма.
func (e *entry) isNewerThan(other *entry) bool {
	if e.lamport != other.lamport {
		return e.lamport > other.lamport
	}
	return e.client > other.client
}

// register Last-Write-Wins карта ключ-значение.
type register struct {
	entries map[string]*entry
}

func newRegister() *register {
	return &register{entries: make(map[string]*entry)}
}

// apply применяет opSet. Возвращает true, если значение ключа изменилось.
func (r *register) apply(o *op) bool {
	incoming := &entry{
		value:   o.value,
		lamport: o.lamport,
		client:  o.id.Client,
		deleted: o.deleted,
	}

	existing, exists := r.entries[o.key]
	if exists && !incoming.isNewerThan(existing) {
		return false
	}

	r.entries[o.key] = incoming
	return true
}

func (r *register) get(key string) ([]byte, bool) {
	e, ok := r.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return slices.Clone(e.value), true
}

// keys возвращает неудаленные ключи в отсортированном порядке
func (r *register) keys() []string {
	out := make([]string, 0, len(r.entries))
	for _, key := range slices.Sorted(maps.Keys(r.entries)) {
		if !r.entries[key].deleted {
			out = append(out, key)
		}
	}
	return out
}
