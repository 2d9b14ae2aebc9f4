package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joao-fontenele/orderflow-settlement/internal/domain"
)

// Claims are issued by the identity service. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(token string) (Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Actor{}, errors.New("invalid token")
	}

	role := Role(claims.Role)
	switch role {
	case RoleCustomer, RoleSupplier, RoleAdmin:
	default:
		return Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return Actor{}, errors.New("token has no subject")
	}

	return Actor{Role: role, ID: claims.Subject, Tier: domain.CustomerTier(claims.Tier)}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved Actor in the request context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w, logger, "missing bearer token")
				return
			}

			actor, err := v.Verify(token)
			if err != nil {
				logger.Warn("rejected token", "error", err, "path", r.URL.Path)
				writeUnauthorized(w, logger, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, logger *slog.Logger, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message, "code": "unauthorized"}); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
