// Package replica хранит in-memory реплики документов и уведомляет подписчиков об изменениях.
package replica

import (
	"sync"

	"github.com/iudanet/gophsync/internal/crdt"
)

// Origin источник изменения реплики
type Origin int

const (
	// OriginLocal правка пользователя этой реплики
	OriginLocal Origin = iota
	// OriginRemote обновление, полученное из канала
	OriginRemote
	// OriginSnapshot состояние, восстановленное из хранилища
	OriginSnapshot
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Update изменение реплики в бинарном виде вместе с его источником.
type Update struct {
	Data   []byte
	Origin Origin
}

// Replica in-memory копия одного документа.
// После Release в Store реплика уничтожена: правки игнорируются, подписчики не вызываются.
type Replica struct {
	doc        *crdt.Doc
	observers  map[int]func(Update)
	documentID string
	nextID     int
	mu         sync.Mutex
	destroyed  bool
}

func newReplica(documentID string, clientID uint64) *Replica {
	return &Replica{
		doc:        crdt.NewDoc(clientID),
		observers:  make(map[int]func(Update)),
		documentID: documentID,
	}
}

// DocumentID возвращает идентификатор документа.
func (r *Replica) DocumentID() string {
	return r.documentID
}

// ClientID возвращает ID клиента этой реплики.
func (r *Replica) ClientID() uint64 {
	return r.doc.ClientID()
}

// Destroyed проверяет, уничтожена ли реплика.
func (r *Replica) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.destroyed
}

// Observe регистрирует подписчика на изменения. Возвращает функцию отписки.
// Подписчик вызывается синхронно в горутине, выполнившей изменение.
func (r *Replica) Observe(fn func(Update)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.observers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Replica) emit(data []byte, origin Origin) {
	if len(data) == 0 {
		return
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	observers := make([]func(Update), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(Update{Data: data, Origin: origin})
	}
}

// Insert вставляет текст в позицию pos.
func (r *Replica) Insert(pos int, text string) error {
	if r.Destroyed() {
		return nil
	}
	update, err := r.doc.InsertText(pos, text)
	if err != nil {
		return err
	}
	r.emit(update, OriginLocal)
	return nil
}

// Delete удаляет n символов начиная с pos.
func (r *Replica) Delete(pos, n int) error {
	if r.Destroyed() {
		return nil
	}
	update, err := r.doc.DeleteText(pos, n)
	if err != nil {
		return err
	}
	r.emit(update, OriginLocal)
	return nil
}

// SetField записывает поле документа.
func (r *Replica) SetField(key string, value []byte) error {
	if r.Destroyed() {
		return nil
	}
	update, err := r.doc.Set(key, value)
	if err != nil {
		return err
	}
	r.emit(update, OriginLocal)
	return nil
}

// RemoveField удаляет поле документа.
func (r *Replica) RemoveField(key string) {
	if r.Destroyed() {
		return
	}
	r.emit(r.doc.Remove(key), OriginLocal)
}

// ApplyUpdate применяет бинарное обновление. Подписчики уведомляются,
// только если обновление что-то изменило.
func (r *Replica) ApplyUpdate(update []byte, origin Origin) error {
	if r.Destroyed() {
		return nil
	}
	applied, err := r.doc.Apply(update)
	if err != nil {
		return err
	}
	if applied > 0 {
		r.emit(update, origin)
	}
	return nil
}

// Text возвращает текст документа.
func (r *Replica) Text() string {
	return r.doc.Text()
}

// Field возвращает значение поля.
func (r *Replica) Field(key string) ([]byte, bool) {
	return r.doc.Get(key)
}

// Fields возвращает имена полей.
func (r *Replica) Fields() []string {
	return r.doc.Keys()
}

// Len возвращает длину текста в символах.
func (r *Replica) Len() int {
	return r.doc.Len()
}

// StateVector возвращает state vector реплики.
func (r *Replica) StateVector() crdt.StateVector {
	return r.doc.StateVector()
}

// EncodeStateVector кодирует state vector реплики.
func (r *Replica) EncodeStateVector() []byte {
	return r.doc.EncodeStateVector()
}

// EncodeFull кодирует полное состояние реплики.
func (r *Replica) EncodeFull() []byte {
	return r.doc.EncodeFull()
}

// EncodeSince кодирует операции, которых нет у реплики с state vector sv.
func (r *Replica) EncodeSince(sv crdt.StateVector) []byte {
	return r.doc.EncodeSince(sv)
}

func (r *Replica) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.destroyed = true
	r.observers = make(map[int]func(Update))
}
