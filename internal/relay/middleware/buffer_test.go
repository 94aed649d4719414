package middleware

import (
	"strings"
	"sync"
)

// safeBuilder strings.Builder для логов из горутин сервера
type safeBuilder struct {
	b  strings.Builder
	mu sync.Mutex
}

func (s *safeBuilder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuilder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
