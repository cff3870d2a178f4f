package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/r3e-network/external-engine-broker/internal/httputil"
	"github.com/r3e-network/external-engine-broker/internal/logging"
)

// RecoveryMiddleware recovers from panics in a handler, logs the stack, and
// responds with a generic 500 instead of closing the connection.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", err),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
