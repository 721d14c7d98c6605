package api

import (
	"context"
	"net/http"
	"strings"

	"neuroprom.com/chat-api/internal/core"
	"neuroprom.com/chat-api/internal/logging"
)

type callerKey struct{}

// CallerFrom returns the caller resolved by OptionalAuth, or an anonymous
// caller if none was stored.
func CallerFrom(ctx context.Context) core.Caller {
	if c, ok := ctx.Value(callerKey{}).(core.Caller); ok {
		return c
	}
	return core.Anonymous()
}

// OptionalAuth resolves the bearer token, if any, into a core.Caller.
// Requests without an Authorization header proceed anonymously; a header
// that is present but does not validate is rejected with 401.
func (h *APIHandler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, core.ErrUnauthenticated)
			return
		}

		caller, err := h.users.ResolveCaller(r.Context(), strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		if id, ok := caller.UserID(); ok {
			l := logging.Ctx(ctx).With().Str(logging.FieldUserID, id).Logger()
			ctx = logging.WithLogger(ctx, l)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
