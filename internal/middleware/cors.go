package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures allowed origins, methods, and headers for CORSMiddleware.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// NewCORSMiddleware returns a handler wrapper applying the given CORS policy.
func NewCORSMiddleware(cfg *CORSConfig) *corsMiddleware {
	return &corsMiddleware{cfg: cfg}
}

type corsMiddleware struct {
	cfg *CORSConfig
}

func (c *corsMiddleware) isAllowedOrigin(origin string) bool {
	for _, allowed := range c.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (c *corsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if c.cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(c.cfg.AllowedMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(c.cfg.AllowedHeaders, ", "))
			if c.cfg.MaxAgeSeconds > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.cfg.MaxAgeSeconds))
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
