package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// APIKeyHeader carries the API key of staff clients.
const APIKeyHeader = "X-API-Key"

var (
	// ErrInvalidAPIKey is returned by a KeyVerifier for unknown keys.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrForbidden is returned by a KeyVerifier for keys lacking a scope.
	ErrForbidden = errors.New("api key not allowed")
)

// KeyVerifier checks an API key. It returns ErrInvalidAPIKey or ErrForbidden
// for rejected keys.
type KeyVerifier func(ctx context.Context, key string) error

// RequireAPIKey admits requests carrying an API key accepted by verify, in
// the X-API-Key header or as a bearer token.
func RequireAPIKey(verify KeyVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			switch err := verify(r.Context(), key); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrInvalidAPIKey):
				writeError(w, http.StatusUnauthorized, err.Error())
			case errors.Is(err, ErrForbidden):
				writeError(w, http.StatusForbidden, err.Error())
			default:
				zctx.From(r.Context()).Error("Verify api key", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		})
	}
}

func apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
