package models

import (
	"encoding/json"
	"slices"
)

// User описывает участника совместного редактирования.
type User struct {
	ID     string `json:"id"`     // ID стабильный идентификатор пользователя
	Name   string `json:"name"`   // Name отображаемое имя
	Color  string `json:"color"`  // Color цвет курсора, например "#ff8800"
	Avatar string `json:"avatar"` // Avatar URL аватара (может быть пустым)
}

// AwarenessState представляет presence одного клиента: кто он, где его курсор и активен ли он.
// Состояние эфемерно и не сохраняется в snapshot документа.
type AwarenessState struct {
	Cursor     json.RawMessage `json:"cursor,omitempty"` // Cursor позиция курсора в формате редактора
	User       User            `json:"user"`             // User данные пользователя
	LastUpdate int64           `json:"last_update"`      // LastUpdate время изменения в миллисекундах Unix
	Active     bool            `json:"active"`           // Active пользователь сейчас работает с документом
}

// Clone создает глубокую копию состояния
func (s *AwarenessState) Clone() *AwarenessState {
	return &AwarenessState{
		Cursor:     slices.Clone(s.Cursor),
		User:       s.User,
		LastUpdate: s.LastUpdate,
		Active:     s.Active,
	}
}
