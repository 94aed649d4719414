// Package channel описывает pub/sub транспорт, через который реплики документа обмениваются сообщениями.
//
// Канал доставляет сообщения всем подписчикам темы, возможно с дубликатами
// и в произвольном порядке. Доставка отправителю самому себе допустима.
package channel

import (
	"context"
	"errors"
)

// State состояние подписки
type State int

const (
	// StateSubscribed подписка активна, сообщения доставляются
	StateSubscribed State = iota + 1
	// StateErrored транспорт недоступен, подписка может восстановиться
	StateErrored
	// StateClosed подписка закрыта окончательно
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event изменение состояния подписки.
type Event struct {
	Err   error
	State State
}

// ErrClosed is returned when publishing through a closed subscription
var ErrClosed = errors.New("channel subscription is closed")

// Subscription подписка на одну тему.
// Messages и Events закрываются после Close или окончательного отказа транспорта.
type Subscription interface {
	Messages() <-chan []byte
	Events() <-chan Event
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Channel создает подписки на темы.
type Channel interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Topic возвращает имя темы документа.
func Topic(documentID string) string {
	return "doc:" + documentID
}
