package crdt

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"unicode/utf8"
)

// Doc реплика CRDT-документа: текст и LWW-карта полей.
// Каждая локальная правка возвращает update, который нужно доставить остальным репликам.
// Применение update коммутативно, ассоциативно и идемпотентно.
type Doc struct {
	clock   *LamportClock
	sv      StateVector
	log     map[uint64][]*op // операции по клиентам, индекс совпадает с clock
	pending map[ID]*op       // операции, ожидающие зависимостей
	text    *sequence
	fields  *register
	client  uint64
	mu      sync.RWMutex
}

// NewDoc создает пустой документ для клиента clientID.
func NewDoc(clientID uint64) *Doc {
	return &Doc{
		clock:   NewLamportClock(),
		sv:      make(StateVector),
		log:     make(map[uint64][]*op),
		pending: make(map[ID]*op),
		text:    newSequence(),
		fields:  newRegister(),
		client:  clientID,
	}
}

// ClientID возвращает ID клиента, которым подписываются локальные операции.
func (d *Doc) ClientID() uint64 {
	return d.client
}

// nextOp создает локальную операцию со следующим ID и timestamp. Вызывается под d.mu.
func (d *Doc) nextOp(kind opKind) *op {
	return &op{
		id:      ID{Client: d.client, Clock: d.sv[d.client]},
		lamport: d.clock.Tick(),
		kind:    kind,
	}
}

// InsertText вставляет text перед pos-м видимым символом.
func (d *Doc) InsertText(pos int, text string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos < 0 || pos > d.text.size {
		return nil, ErrOutOfRange
	}
	if text == "" {
		return nil, nil
	}

	var origin ID
	hasOrigin := false
	if pos > 0 {
		origin = d.text.visibleAt(pos - 1).id
		hasOrigin = true
	}

	ops := make([]*op, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		o := d.nextOp(opInsert)
		o.origin = origin
		o.hasOrigin = hasOrigin
		o.value = utf8.AppendRune(nil, r)

		d.integrate(o)
		ops = append(ops, o)

		origin, hasOrigin = o.id, true
	}

	return encodeOps(ops), nil
}

// DeleteText удаляет n видимых символов начиная с pos.
func (d *Doc) DeleteText(pos, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos < 0 || n < 0 || pos+n > d.text.size {
		return nil, ErrOutOfRange
	}
	if n == 0 {
		return nil, nil
	}

	targets := make([]ID, 0, n)
	for i := range n {
		targets = append(targets, d.text.visibleAt(pos+i).id)
	}

	ops := make([]*op, 0, n)
	for _, target := range targets {
		o := d.nextOp(opDelete)
		o.target = target

		d.integrate(o)
		ops = append(ops, o)
	}

	return encodeOps(ops), nil
}

// Set записывает значение поля.
func (d *Doc) Set(key string, value []byte) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	o := d.nextOp(opSet)
	o.key = key
	o.value = slices.Clone(value)
	if o.value == nil {
		o.value = []byte{}
	}

	d.integrate(o)
	return encodeOps([]*op{o}), nil
}

// Remove удаляет поле. Для отсутствующего поля update не создается.
func (d *Doc) Remove(key string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.fields.get(key); !ok {
		return nil
	}

	o := d.nextOp(opSet)
	o.key = key
	o.deleted = true

	d.integrate(o)
	return encodeOps([]*op{o})
}

// integrate применяет готовую операцию и добавляет ее в журнал. Вызывается под d.mu.
func (d *Doc) integrate(o *op) {
	switch o.kind {
	case opInsert:
		d.text.insert(o)
	case opDelete:
		d.text.remove(o.target)
	case opSet:
		d.fields.apply(o)
	}

	d.log[o.id.Client] = append(d.log[o.id.Client], o)
	d.sv[o.id.Client] = o.id.Clock + 1
	d.clock.Witness(o.lamport)
}

// has проверяет, интегрирована ли операция id. Вызывается под d.mu.
func (d *Doc) has(id ID) bool {
	return id.Clock < d.sv[id.Client]
}

// ready проверяет, что операция следующая для своего клиента и ее зависимость уже интегрирована.
func (d *Doc) ready(o *op) bool {
	if o.id.Clock != d.sv[o.id.Client] {
		return false
	}
	if dep, ok := o.dep(); ok && !d.has(dep) {
		return false
	}
	return true
}

// Apply интегрирует update от другой реплики.
// Уже известные операции пропускаются, операции с недостающими зависимостями
// откладываются до их появления. Возвращает количество интегрированных операций.
// Malformed update отклоняется целиком и не меняет документ.
func (d *Doc) Apply(update []byte) (int, error) {
	ops, err := decodeOps(update)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range ops {
		if d.has(o.id) {
			continue
		}
		if _, parked := d.pending[o.id]; parked {
			continue
		}
		d.pending[o.id] = o
	}

	return d.drainPending(), nil
}

// drainPending интегрирует отложенные операции, пока это возможно. Вызывается под d.mu.
func (d *Doc) drainPending() int {
	applied := 0
	for progress := true; progress && len(d.pending) > 0; {
		progress = false
		for _, o := range d.sortedPending() {
			if d.has(o.id) {
				delete(d.pending, o.id)
				continue
			}
			if !d.ready(o) {
				continue
			}
			delete(d.pending, o.id)
			d.integrate(o)
			applied++
			progress = true
		}
	}
	return applied
}

func (d *Doc) sortedPending() []*op {
	ops := slices.Collect(maps.Values(d.pending))
	slices.SortFunc(ops, func(a, b *op) int {
		if c := cmp.Compare(a.id.Client, b.id.Client); c != 0 {
			return c
		}
		return cmp.Compare(a.id.Clock, b.id.Clock)
	})
	return ops
}

// Text возвращает текущее содержимое текста.
func (d *Doc) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.text.String()
}

// Len возвращает количество видимых символов.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.text.size
}

// Get возвращает значение поля.
func (d *Doc) Get(key string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.fields.get(key)
}

// Keys возвращает имена полей в отсортированном порядке.
func (d *Doc) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.fields.keys()
}

// Pending возвращает количество отложенных операций.
func (d *Doc) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.pending)
}

// StateVector возвращает копию state vector документа.
func (d *Doc) StateVector() StateVector {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.sv.Clone()
}

// EncodeStateVector кодирует state vector документа.
func (d *Doc) EncodeStateVector() []byte {
	return EncodeStateVector(d.StateVector())
}

// EncodeFull кодирует все состояние документа.
func (d *Doc) EncodeFull() []byte {
	return d.EncodeSince(nil)
}

// EncodeSince кодирует операции, которых нет у реплики с state vector sv.
// Отложенные операции тоже включаются, чтобы не потерять их при пересылке и snapshot.
func (d *Doc) EncodeSince(sv StateVector) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ops []*op
	for _, client := range slices.Sorted(maps.Keys(d.log)) {
		clientOps := d.log[client]
		from := sv[client]
		if from < uint64(len(clientOps)) {
			ops = append(ops, clientOps[from:]...)
		}
	}
	for _, o := range d.sortedPending() {
		if o.id.Clock >= sv[o.id.Client] {
			ops = append(ops, o)
		}
	}

	return encodeOps(ops)
}
