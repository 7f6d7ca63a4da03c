package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/commerce-engine/api/responses"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

const internalTokenHeader = "X-Internal-Token"

// InternalToken guards operator routes with a shared secret. An empty
// configured token disables the routes entirely.
func InternalToken(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := []byte(strings.TrimSpace(r.Header.Get(internalTokenHeader)))
			if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
				ctx := r.Context()
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "path", r.URL.Path), "internal token rejected")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "internal token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
