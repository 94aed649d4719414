package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInsert(t *testing.T, d *Doc, pos int, text string) []byte {
	t.Helper()
	update, err := d.InsertText(pos, text)
	require.NoError(t, err)
	return update
}

func mustDelete(t *testing.T, d *Doc, pos, n int) []byte {
	t.Helper()
	update, err := d.DeleteText(pos, n)
	require.NoError(t, err)
	return update
}

func mustApply(t *testing.T, d *Doc, update []byte) int {
	t.Helper()
	applied, err := d.Apply(update)
	require.NoError(t, err)
	return applied
}

func TestDoc_LocalEdits(t *testing.T) {
	d := NewDoc(1)

	mustInsert(t, d, 0, "hello")
	mustInsert(t, d, 5, " world")
	assert.Equal(t, "hello world", d.Text())
	assert.Equal(t, 11, d.Len())

	mustInsert(t, d, 0, ">> ")
	assert.Equal(t, ">> hello world", d.Text())

	mustDelete(t, d, 0, 3)
	assert.Equal(t, "hello world", d.Text())

	mustInsert(t, d, 5, ",")
	assert.Equal(t, "hello, world", d.Text())

	assert.Equal(t, StateVector{1: 18}, d.StateVector())
}

func TestDoc_Unicode(t *testing.T) {
	d := NewDoc(1)
	mustInsert(t, d, 0, "привет")
	mustInsert(t, d, 6, " 🌍")
	mustDelete(t, d, 0, 1)

	assert.Equal(t, "ривет 🌍", d.Text())
	assert.Equal(t, 7, d.Len())
}

func TestDoc_OutOfRange(t *testing.T) {
	d := NewDoc(1)
	mustInsert(t, d, 0, "abc")

	tests := []struct {
		run  func() ([]byte, error)
		name string
	}{
		{name: "insert negative", run: func() ([]byte, error) { return d.InsertText(-1, "x") }},
		{name: "insert past end", run: func() ([]byte, error) { return d.InsertText(4, "x") }},
		{name: "delete past end", run: func() ([]byte, error) { return d.DeleteText(2, 2) }},
		{name: "delete negative count", run: func() ([]byte, error) { return d.DeleteText(0, -1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := tt.run()
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.Nil(t, update)
		})
	}
	assert.Equal(t, "abc", d.Text())
}

func TestDoc_EmptyEditsProduceNoUpdate(t *testing.T) {
	d := NewDoc(1)

	update := mustInsert(t, d, 0, "")
	assert.Nil(t, update)

	update = mustDelete(t, d, 0, 0)
	assert.Nil(t, update)

	assert.Nil(t, d.Remove("missing"))
	assert.Empty(t, d.EncodeFull())
}

func TestDoc_ConcurrentInsertsConverge(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	base := mustInsert(t, a, 0, "ac")
	mustApply(t, b, base)

	// обе реплики вставляют в одну позицию одновременно
	ua := mustInsert(t, a, 1, "XX")
	ub := mustInsert(t, b, 1, "yy")

	mustApply(t, a, ub)
	mustApply(t, b, ua)

	assert.Equal(t, a.Text(), b.Text())
	assert.Len(t, a.Text(), 6)
	assert.True(t, a.StateVector().Equal(b.StateVector()))
}

func TestDoc_ConcurrentDeleteAndInsert(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	mustApply(t, b, mustInsert(t, a, 0, "hello"))

	ua := mustDelete(t, a, 1, 3) // "ho"
	ub := mustInsert(t, b, 3, "L") // "helLlo"

	mustApply(t, a, ub)
	mustApply(t, b, ua)

	assert.Equal(t, "hLo", a.Text())
	assert.Equal(t, a.Text(), b.Text())
}

func TestDoc_OrderIndependent(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)
	c := NewDoc(3)

	u1 := mustInsert(t, a, 0, "one ")
	mustApply(t, b, u1)
	u2 := mustInsert(t, b, 4, "two ")
	u3 := mustInsert(t, a, 0, "zero ")
	mustApply(t, a, u2)
	u4 := mustDelete(t, a, 0, 2)

	permutations := [][][]byte{
		{u1, u2, u3, u4},
		{u4, u3, u2, u1},
		{u2, u4, u1, u3},
		{u3, u1, u4, u2},
	}

	for i, order := range permutations {
		d := NewDoc(uint64(10 + i))
		for _, u := range order {
			mustApply(t, d, u)
		}
		assert.Equal(t, a.Text(), d.Text(), "permutation %d", i)
		assert.Zero(t, d.Pending(), "permutation %d", i)
	}

	for _, u := range [][]byte{u4, u2, u3, u1} {
		mustApply(t, c, u)
	}
	assert.Equal(t, a.Text(), c.Text())
}

func TestDoc_OutOfOrderIsParked(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	u1 := mustInsert(t, a, 0, "ab")
	u2 := mustInsert(t, a, 2, "cd")

	applied := mustApply(t, b, u2)
	assert.Zero(t, applied)
	assert.Equal(t, 2, b.Pending())
	assert.Equal(t, "", b.Text())

	// отложенные операции переживают пересылку через full state
	relay := NewDoc(3)
	mustApply(t, relay, b.EncodeFull())
	assert.Equal(t, 2, relay.Pending())

	applied = mustApply(t, b, u1)
	assert.Equal(t, 4, applied)
	assert.Zero(t, b.Pending())
	assert.Equal(t, "abcd", b.Text())

	mustApply(t, relay, u1)
	assert.Equal(t, "abcd", relay.Text())
}

func TestDoc_Idempotent(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	u := mustInsert(t, a, 0, "abc")
	assert.Equal(t, 3, mustApply(t, b, u))
	assert.Zero(t, mustApply(t, b, u))
	assert.Zero(t, mustApply(t, b, a.EncodeFull()))

	assert.Equal(t, "abc", b.Text())
}

func TestDoc_EncodeSince(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	mustApply(t, b, mustInsert(t, a, 0, "hello"))
	mustInsert(t, a, 5, " world")

	diff := a.EncodeSince(b.StateVector())
	assert.Less(t, len(diff), len(a.EncodeFull()))

	assert.Equal(t, 6, mustApply(t, b, diff))
	assert.Equal(t, "hello world", b.Text())

	assert.Empty(t, a.EncodeSince(b.StateVector()))
	assert.True(t, b.StateVector().Covers(a.StateVector()))
}

func TestDoc_MalformedUpdateRejected(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)
	mustApply(t, b, mustInsert(t, a, 0, "abc"))

	valid := mustInsert(t, a, 3, "def")

	tests := []struct {
		name   string
		update []byte
	}{
		{name: "truncated", update: valid[:len(valid)-2]},
		{name: "garbage", update: []byte{0xff, 0xff, 0xff}},
		{name: "unknown kind", update: encodeOps([]*op{{id: ID{Client: 9}, lamport: 1, kind: 42}})},
		{name: "insert without rune", update: encodeOps([]*op{{id: ID{Client: 9}, lamport: 1, kind: opInsert}})},
		{name: "zero lamport", update: encodeOps([]*op{{id: ID{Client: 9}, kind: opSet, key: "k"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := b.Apply(tt.update)
			assert.ErrorIs(t, err, ErrMalformedUpdate)
			assert.Zero(t, applied)
			assert.Equal(t, "abc", b.Text())
			assert.Zero(t, b.Pending())
		})
	}
}

func TestDoc_Fields(t *testing.T) {
	a := NewDoc(1)
	b := NewDoc(2)

	_, err := a.Set("", []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyKey)

	ua, err := a.Set("title", []byte("from a"))
	require.NoError(t, err)
	ub, err := b.Set("title", []byte("from b"))
	require.NoError(t, err)

	mustApply(t, a, ub)
	mustApply(t, b, ua)

	va, ok := a.Get("title")
	require.True(t, ok)
	vb, ok := b.Get("title")
	require.True(t, ok)
	// одинаковый lamport, побеждает больший ID клиента
	assert.Equal(t, "from b", string(va))
	assert.Equal(t, va, vb)

	mustApply(t, b, a.Remove("title"))
	_, ok = b.Get("title")
	assert.False(t, ok)
	assert.Empty(t, b.Keys())
}

func TestDoc_RestoreFromFullState(t *testing.T) {
	a := NewDoc(1)
	mustInsert(t, a, 0, "persisted")
	_, err := a.Set("lang", []byte("en"))
	require.NoError(t, err)

	restored := NewDoc(5)
	mustApply(t, restored, a.EncodeFull())

	assert.Equal(t, "persisted", restored.Text())
	assert.Equal(t, []string{"lang"}, restored.Keys())

	// новые локальные правки продолжают причинный порядок
	mustInsert(t, restored, 9, "!")
	mustApply(t, a, restored.EncodeSince(a.StateVector()))
	assert.Equal(t, "persisted!", a.Text())
}
