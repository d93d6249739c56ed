// Package auth verifies bearer tokens on the governance API.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Scope required on tokens that start or cancel promotion runs. Read-only
// endpoints accept any valid token.
const WriteScope = "governance:write"

// ErrMissingScope marks a valid token lacking the required scope, so callers
// can distinguish 403 from 401.
var ErrMissingScope = errors.New("missing required scope " + WriteScope)

// Verifier authenticates API requests with HMAC-signed JWTs.
type Verifier struct {
	secret     []byte
	allowAnon  bool
	debugToken string
}

// NewVerifier builds a Verifier. With allowAnon set, every request passes;
// that mode exists for local development only.
func NewVerifier(secret string, allowAnon bool, debugToken string) *Verifier {
	return &Verifier{secret: []byte(secret), allowAnon: allowAnon, debugToken: debugToken}
}

// VerifyRequest checks the Authorization header. needWrite additionally
// requires the write scope in the token's scope claim.
func (v *Verifier) VerifyRequest(r *http.Request, needWrite bool) error {
	if v.allowAnon {
		return nil
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return errors.New("authentication required: bearer token")
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	if v.debugToken != "" && subtle.ConstantTimeCompare([]byte(tokenStr), []byte(v.debugToken)) == 1 {
		return nil
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	if !needWrite {
		return nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}
	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			if s == WriteScope {
				return nil
			}
		}
	}
	return ErrMissingScope
}

// Middleware wraps an http.Handler, rejecting unauthenticated requests with
// 401 and unauthorized ones with 403.
func (v *Verifier) Middleware(needWrite bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.VerifyRequest(r, needWrite); err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrMissingScope) {
					status = http.StatusForbidden
				}
				http.Error(w, err.Error(), status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
