package middleware

import "net/http"

const defaultBodyLimitBytes = 1 << 20 // 1MB

// BodyLimitMiddleware caps request bodies to reduce memory pressure from a
// slow or malicious client. Callers must not apply this to the submit
// upload route: it reads a provider's body in bounded chunks on its own,
// and a possibly-unbounded Work.Infinite session would get truncated and
// mistaken for a disconnected provider.
type BodyLimitMiddleware struct {
	limitBytes int64
}

func NewBodyLimitMiddleware(limitBytes int64) *BodyLimitMiddleware {
	if limitBytes <= 0 {
		limitBytes = defaultBodyLimitBytes
	}
	return &BodyLimitMiddleware{limitBytes: limitBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, m.limitBytes)
		next.ServeHTTP(w, r)
	})
}
