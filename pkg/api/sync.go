package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/payload"
)

// MessageType тип сообщения протокола синхронизации
type MessageType string

const (
	// TypeSyncStep1 запрос состояния: отправитель публикует свой state vector
	TypeSyncStep1 MessageType = "sync-step-1"
	// TypeSyncStep2 адресный ответ на sync-step-1: недостающие операции и state vector ответчика
	TypeSyncStep2 MessageType = "sync-step-2"
	// TypeUpdate инкрементальное обновление документа
	TypeUpdate MessageType = "update"
	// TypeAwareness обновление presence
	TypeAwareness MessageType = "awareness"
)

var (
	// ErrUnknownMessageType is returned for messages with an unrecognized type
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrInvalidMessage is returned for messages missing required fields
	ErrInvalidMessage = errors.New("invalid message")
)

// Message конверт, публикуемый в канал документа.
// Бинарные поля передаются в base64.
type Message struct {
	Type              MessageType `json:"type"`
	StateVector       string      `json:"stateVector,omitempty"`
	Update            string      `json:"update,omitempty"`
	RequesterClientID uint64      `json:"requesterClientId,omitempty"`
	TargetClientID    uint64      `json:"targetClientId,omitempty"`
}

// NewSyncStep1 создает запрос состояния от клиента requester.
func NewSyncStep1(stateVector []byte, requester uint64) Message {
	return Message{
		Type:              TypeSyncStep1,
		StateVector:       payload.Encode(stateVector),
		RequesterClientID: requester,
	}
}

// NewSyncStep2 создает ответ для клиента target.
func NewSyncStep2(update, stateVector []byte, target uint64) Message {
	return Message{
		Type:           TypeSyncStep2,
		Update:         payload.Encode(update),
		StateVector:    payload.Encode(stateVector),
		TargetClientID: target,
	}
}

// NewUpdate создает инкрементальное обновление документа.
func NewUpdate(update []byte) Message {
	return Message{Type: TypeUpdate, Update: payload.Encode(update)}
}

// NewAwareness создает обновление presence.
func NewAwareness(update []byte) Message {
	return Message{Type: TypeAwareness, Update: payload.Encode(update)}
}

// Validate проверяет, что у сообщения известный тип и заполнены обязательные поля.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSyncStep1:
		if m.RequesterClientID == 0 {
			return fmt.Errorf("%w: %s without requesterClientId", ErrInvalidMessage, m.Type)
		}
	case TypeSyncStep2:
		if m.TargetClientID == 0 {
			return fmt.Errorf("%w: %s without targetClientId", ErrInvalidMessage, m.Type)
		}
	case TypeUpdate, TypeAwareness:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	return nil
}

// StateVectorBytes декодирует поле stateVector.
func (m Message) StateVectorBytes() ([]byte, error) {
	return payload.Decode(m.StateVector)
}

// UpdateBytes декодирует поле update.
func (m Message) UpdateBytes() ([]byte, error) {
	return payload.Decode(m.Update)
}

// Marshal кодирует сообщение в JSON.
func (m Message) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// Unmarshal декодирует и проверяет сообщение.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// HealthResponse ответ эндпоинта /api/v1/health
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Backend     string `json:"backend"`
	Connections int64  `json:"connections"`
}
