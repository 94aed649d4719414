package replica

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Store реестр реплик процесса: не больше одной реплики на документ.
// Каждый Acquire должен быть парным к Release: реплика уничтожается,
// когда ее освобождает последний владелец.
type Store struct {
	replicas map[string]*Replica
	refs     map[string]int
	nextID   func() uint64
	mu       sync.Mutex
}

// Option настройка Store
type Option func(*Store)

// WithClientIDs задает ID клиентов для новых реплик по порядку.
// Когда список исчерпан, ID продолжаются с последнего значения.
func WithClientIDs(ids ...uint64) Option {
	return func(s *Store) {
		var mu sync.Mutex
		var last uint64
		s.nextID = func() uint64 {
			mu.Lock()
			defer mu.Unlock()

			if len(ids) > 0 {
				last, ids = ids[0], ids[1:]
				return last
			}
			last++
			return last
		}
	}
}

// NewStore создает пустой реестр.
// По умолчанию ID клиентов строятся от случайной базы из UUID и монотонно растут,
// чтобы две реплики одного процесса не получили одинаковый ID.
func NewStore(opts ...Option) *Store {
	s := &Store{
		replicas: make(map[string]*Replica),
		refs:     make(map[string]int),
		nextID:   randomClientIDs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomClientIDs() func() uint64 {
	u := uuid.New()
	// база укладывается в 32 бита, чтобы ID оставались точными в JSON числах
	base := uint64(binary.BigEndian.Uint32(u[:4]))
	var counter atomic.Uint64
	return func() uint64 {
		return base + counter.Add(1)
	}
}

// Acquire возвращает реплику документа, создавая ее при первом обращении,
// и увеличивает число ее владельцев.
func (s *Store) Acquire(documentID string) *Replica {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replicas[documentID]
	if !ok {
		r = newReplica(documentID, s.nextID())
		s.replicas[documentID] = r
	}
	s.refs[documentID]++
	return r
}

// Get возвращает реплику без создания.
func (s *Store) Get(documentID string) (*Replica, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replicas[documentID]
	return r, ok
}

// Release освобождает реплику. Последний Release уничтожает ее и удаляет из реестра,
// после чего Acquire создаст новую реплику с новым ID клиента.
// Release неизвестного документа ничего не делает.
func (s *Store) Release(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replicas[documentID]
	if !ok {
		return
	}
	if s.refs[documentID]--; s.refs[documentID] > 0 {
		return
	}

	// уничтожение под блокировкой: Acquire не получит наполовину уничтоженную реплику
	r.destroy()
	delete(s.replicas, documentID)
	delete(s.refs, documentID)
}

// Holders возвращает число владельцев реплики документа.
func (s *Store) Holders(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refs[documentID]
}

// Len возвращает количество живых реплик.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.replicas)
}
