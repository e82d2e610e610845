package middleware

import (
	"net/http"

	"github.com/cytomind/gateway/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// ServiceKey authenticates the inference service's callbacks. The raw key is
// sent as a bearer token and compared against a bcrypt hash.
type ServiceKey struct {
	hash []byte
}

func NewServiceKey(hash string) *ServiceKey {
	return &ServiceKey{hash: []byte(hash)}
}

func (s *ServiceKey) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" || len(s.hash) == 0 {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if bcrypt.CompareHashAndPassword(s.hash, []byte(raw)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid service key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
