// Package awareness хранит эфемерное presence-состояние участников документа.
//
// Каждый клиент владеет только своей записью. Записи других клиентов
// принимаются по правилу last-write-wins по LastUpdate, удаление передается
// как запись без состояния, поэтому устаревшее состояние не воскрешает ушедшего клиента.
package awareness

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// Change описывает клиентов, чье состояние изменилось.
type Change struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
}

// Empty проверяет, что изменений нет.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Awareness presence-состояния всех известных клиентов документа.
type Awareness struct {
	states   map[uint64]*models.AwarenessState
	clocks   map[uint64]int64 // последний принятый LastUpdate, в том числе для удаленных
	now      func() time.Time
	clientID uint64
	mu       sync.RWMutex
}

// Option настройка Awareness
type Option func(*Awareness)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(a *Awareness) {
		a.now = now
	}
}

// New создает пустое хранилище presence для клиента clientID.
func New(clientID uint64, opts ...Option) *Awareness {
	a := &Awareness{
		states:   make(map[uint64]*models.AwarenessState),
		clocks:   make(map[uint64]int64),
		now:      time.Now,
		clientID: clientID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ClientID возвращает ID локального клиента.
func (a *Awareness) ClientID() uint64 {
	return a.clientID
}

// tick возвращает строго возрастающий timestamp для локальной записи. Вызывается под a.mu.
func (a *Awareness) tick() int64 {
	ts := a.now().UnixMilli()
	if last := a.clocks[a.clientID]; ts <= last {
		ts = last + 1
	}
	a.clocks[a.clientID] = ts
	return ts
}

// SetLocalState публикует локального пользователя. Курсор и активность сохраняются.
func (a *Awareness) SetLocalState(user models.User) ([]byte, Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[a.clientID]
	if !exists {
		state = &models.AwarenessState{Active: true}
		a.states[a.clientID] = state
	}
	state.User = user

	return a.commitLocal(state, exists)
}

// SetLocalCursor обновляет курсор. Пустой cursor сбрасывает курсор.
// Без локального состояния или с невалидным JSON ничего не делает.
func (a *Awareness) SetLocalCursor(cursor json.RawMessage) ([]byte, Change) {
	if len(cursor) > 0 && !json.Valid(cursor) {
		return nil, Change{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[a.clientID]
	if !exists {
		return nil, Change{}
	}
	state.Cursor = slices.Clone(cursor)

	return a.commitLocal(state, true)
}

// SetActive обновляет флаг активности. Без локального состояния ничего не делает.
func (a *Awareness) SetActive(active bool) ([]byte, Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[a.clientID]
	if !exists {
		return nil, Change{}
	}
	state.Active = active

	return a.commitLocal(state, true)
}

func (a *Awareness) commitLocal(state *models.AwarenessState, existed bool) ([]byte, Change) {
	state.LastUpdate = a.tick()

	change := Change{Updated: []uint64{a.clientID}}
	if !existed {
		change = Change{Added: []uint64{a.clientID}}
	}

	return encodeEntries([]entry{{client: a.clientID, clock: state.LastUpdate, state: state}}), change
}

// RemoveLocal удаляет локальное состояние и возвращает update об удалении.
func (a *Awareness) RemoveLocal() ([]byte, Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.states[a.clientID]; !exists {
		return nil, Change{}
	}
	delete(a.states, a.clientID)

	ts := a.tick()
	return encodeEntries([]entry{{client: a.clientID, clock: ts}}), Change{Removed: []uint64{a.clientID}}
}

// EncodeLocal кодирует текущее локальное состояние, например для повторной рассылки новому участнику.
func (a *Awareness) EncodeLocal() []byte {
	return a.Encode(a.clientID)
}

// Encode кодирует состояния указанных клиентов. Без аргументов кодирует все состояния.
func (a *Awareness) Encode(clientIDs ...uint64) []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(clientIDs) == 0 {
		clientIDs = slices.Sorted(maps.Keys(a.states))
	}

	entries := make([]entry, 0, len(clientIDs))
	for _, id := range clientIDs {
		if state, ok := a.states[id]; ok {
			entries = append(entries, entry{client: id, clock: state.LastUpdate, state: state})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return encodeEntries(entries)
}

// Apply применяет update от другого клиента.
// Записи о локальном клиенте игнорируются: своим состоянием владеет только он сам.
// Malformed update отклоняется целиком.
func (a *Awareness) Apply(update []byte) (Change, error) {
	entries, err := decodeEntries(update)
	if err != nil {
		return Change{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var change Change
	for _, e := range entries {
		if e.client == a.clientID {
			continue
		}
		if last, seen := a.clocks[e.client]; seen && e.clock <= last {
			continue
		}
		a.clocks[e.client] = e.clock

		_, exists := a.states[e.client]
		if e.state == nil {
			if exists {
				delete(a.states, e.client)
				change.Removed = append(change.Removed, e.client)
			}
			continue
		}

		e.state.LastUpdate = e.clock
		a.states[e.client] = e.state
		if exists {
			change.Updated = append(change.Updated, e.client)
		} else {
			change.Added = append(change.Added, e.client)
		}
	}

	return change, nil
}

// RemoveStates удаляет состояния указанных клиентов без рассылки,
// например когда транспорт сообщил об их отключении.
func (a *Awareness) RemoveStates(clientIDs ...uint64) Change {
	a.mu.Lock()
	defer a.mu.Unlock()

	var change Change
	for _, id := range clientIDs {
		if id == a.clientID {
			continue
		}
		if _, ok := a.states[id]; ok {
			delete(a.states, id)
			change.Removed = append(change.Removed, id)
		}
	}
	return change
}

// States возвращает копии всех известных состояний, включая локальное.
func (a *Awareness) States() map[uint64]*models.AwarenessState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[uint64]*models.AwarenessState, len(a.states))
	for id, state := range a.states {
		out[id] = state.Clone()
	}
	return out
}

// State возвращает копию состояния клиента.
func (a *Awareness) State(clientID uint64) (*models.AwarenessState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state, ok := a.states[clientID]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// LocalState возвращает копию локального состояния.
func (a *Awareness) LocalState() (*models.AwarenessState, bool) {
	return a.State(a.clientID)
}

// Len возвращает количество известных состояний.
func (a *Awareness) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.states)
}

func (a *Awareness) String() string {
	return fmt.Sprintf("awareness(client=%d, states=%d)", a.clientID, a.Len())
}
