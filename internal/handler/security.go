package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
)

type ctxKey int

const userKey ctxKey = iota

// UserFrom returns the authenticated user stored in the request context.
func UserFrom(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userKey).(*user.User)
	return u, ok
}

// Security authenticates API requests via HMAC-SHA256 hashed API keys.
// The plaintext key travels in the api_key header; only its keyed hash is
// stored, so a leaked database cannot be replayed against the API.
type Security struct {
	apikeys user.APIKeyRepository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys user.APIKeyRepository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves the api_key header to a user and stores it in the
// request context. The lookup is by keyed hash, so comparison happens inside
// the unique index rather than over plaintext keys.
func (s *Security) Authenticate(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("api_key")
		if key == "" {
			respondError(r.Context(), w, http.StatusUnauthorized, "missing api key")
			return
		}

		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(key))
		hash := hex.EncodeToString(mac.Sum(nil))

		u, err := s.apikeys.FindByHash(r.Context(), hash)
		if err != nil {
			respondError(r.Context(), w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// RequireAdmin rejects authenticated users without the ADMIN role.
func (s *Security) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		if !ok || u.Role != user.RoleAdmin {
			respondError(r.Context(), w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}
