package crdt

import "strings"

// item символ текста. Удаленные символы остаются в последовательности как tombstone,
// чтобы на них могли ссылаться вставки других клиентов.
type item struct {
	id      ID
	lamport uint64
	r       rune
	deleted bool
}

// after reports whether the item wins over o when both follow the same origin.
func (it *item) after(o *op) bool {
	if it.lamport != o.lamport {
		return it.lamport > o.lamport
	}
	return it.id.Client > o.id.Client
}

// sequence реплицируемый текст (RGA).
type sequence struct {
	index map[ID]*item
	items []*item
	size  int // количество неудаленных символов
}

func newSequence() *sequence {
	return &sequence{index: make(map[ID]*item)}
}

func (s *sequence) position(id ID) int {
	for i, it := range s.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

// insert размещает символ справа от origin.
// Символы с большим (lamport, client) остаются ближе к origin вместе со своими потомками,
// поэтому порядок не зависит от порядка доставки операций.
func (s *sequence) insert(o *op) {
	idx := 0
	if o.hasOrigin {
		idx = s.position(o.origin) + 1
	}
	for idx < len(s.items) && s.items[idx].after(o) {
		idx++
	}

	r := []rune(string(o.value))[0]
	it := &item{id: o.id, lamport: o.lamport, r: r}

	s.items = append(s.items, nil)
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = it
	s.index[o.id] = it
	s.size++
}

// remove помечает символ удаленным. Повторное удаление ничего не меняет.
func (s *sequence) remove(target ID) {
	it, ok := s.index[target]
	if !ok || it.deleted {
		return
	}
	it.deleted = true
	s.size--
}

// visibleAt возвращает pos-й неудаленный символ
func (s *sequence) visibleAt(pos int) *item {
	for _, it := range s.items {
		if it.deleted {
			continue
		}
		if pos == 0 {
			return it
		}
		pos--
	}
	return nil
}

func (s *sequence) String() string {
	var sb strings.Builder
	for _, it := range s.items {
		if !it.deleted {
			sb.WriteRune(it.r)
		}
	}
	return sb.String()
}
