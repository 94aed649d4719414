package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoveryMiddleware перехватывает panic в handler, логирует стек и отвечает 500.
// Если соединение уже передано websocket, ответить нельзя: оно просто закрывается.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracked := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.Error("Panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"websocket", tracked.hijacked,
					"stack", string(debug.Stack()),
				)

				if tracked.hijacked {
					return
				}
				// детали клиенту не раскрываем
				sendError(w, "", http.StatusInternalServerError)
			}()

			next.ServeHTTP(tracked, r)
		})
	}
}
