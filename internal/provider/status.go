package provider

import "fmt"

// Status состояние соединения провайдера
type Status int

const (
	// StatusDisconnected провайдер не подписан на канал
	StatusDisconnected Status = iota
	// StatusConnecting подписка запрошена, канал еще не подтвердил ее
	StatusConnecting
	// StatusConnected подписка активна или провайдер работает в local-only режиме
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StatusEvent событие смены состояния.
// LocalOnly означает, что канал недоступен: правки применяются и сохраняются, но не рассылаются.
type StatusEvent struct {
	Status    Status
	LocalOnly bool
}

// ErrorKind категория ошибки
type ErrorKind int

const (
	// ErrorTransport канал не подписался или сообщил об ошибке
	ErrorTransport ErrorKind = iota + 1
	// ErrorDecode сообщение из канала не удалось разобрать
	ErrorDecode
	// ErrorPersistence не удалось загрузить или сохранить snapshot
	ErrorPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorDecode:
		return "decode"
	case ErrorPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// ErrorEvent ошибка, о которой провайдер сообщает подписчикам. Ошибки не прерывают работу.
type ErrorEvent struct {
	Err  error
	Kind ErrorKind
}

func (e ErrorEvent) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e ErrorEvent) Unwrap() error {
	return e.Err
}
