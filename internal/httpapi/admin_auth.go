package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/r3e-network/external-engine-broker/internal/httputil"
)

type adminCtxKey string

const adminUserIDKey adminCtxKey = "httpapi.admin.userId"

// adminClaims is the bearer JWT payload operators are issued out-of-band
// (SPEC_FULL §11.4): it carries only the operator's user id, scoping CRUD
// operations to registrations that user owns.
type adminClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// RequireAdminAuth validates a bearer JWT signed with secret and injects the
// claimed user id into the request context. This never touches the
// client-secret/provider-secret path the core spec describes; it only guards
// the registration CRUD surface.
func RequireAdminAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}

			claims := &adminClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !parsed.Valid || claims.UserID == "" {
				httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), adminUserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, prefix))
	}
	return ""
}

func adminUserID(r *http.Request) string {
	userID, _ := r.Context().Value(adminUserIDKey).(string)
	return userID
}
