package crdt

import (
	"sync"
)

// LamportClock представляет логические часы Лампорта для упорядочивания операций
// разных клиентов без синхронизации физического времени.
type LamportClock struct {
	counter uint64     // монотонно возрастающий счетчик
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает новые часы с нулевым счетчиком.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick увеличивает счетчик и возвращает новое значение.
// Используется при создании новой локальной операции.
func (lc *LamportClock) Tick() uint64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Witness учитывает timestamp удаленной операции: counter = max(counter, remote).
// Следующий Tick гарантированно вернет значение больше remote.
func (lc *LamportClock) Witness(remote uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remote > lc.counter {
		lc.counter = remote
	}
}

// Timestamp возвращает текущее значение счетчика без его изменения.
func (lc *LamportClock) Timestamp() uint64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}
