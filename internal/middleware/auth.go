package middleware

import (
	"context"
	"net/http"
	"strings"

	"coderoom/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// CredentialVerifier resolves a bearer token to an identity
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (*models.Identity, error)
}

const identityKey contextKey = "identity"

// BearerToken extracts the credential from "Authorization: Bearer <token>",
// falling back to the "token" query parameter. Browsers cannot set headers
// on a WebSocket upgrade, so the fallback is what web clients use.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.VerifyCredential(r.Context(), BearerToken(r))
			if err != nil {
				AddSpanError(r.Context(), err)
				http.Error(w, "Authentication error", http.StatusUnauthorized)
				return
			}

			AddSpanEvent(r.Context(), "authenticated", attribute.String("user.id", identity.UserID))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored by RequireAuth
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*models.Identity)
	return identity, ok && identity != nil
}
