// Package auth verifies the session tokens sent by the shell that hosts the
// core.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrWrongUser is returned when a valid token belongs to another user.
var ErrWrongUser = errors.New("token belongs to another user")

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign issues a token for userID valid for ttl.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Verify parses the token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("parse token: missing subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token for userID.
type Middleware struct {
	Logger   *slog.Logger
	Verifier *Verifier
	UserID   string
	Next     http.Handler
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		m.reject(w, r, errors.New("missing bearer token"))
		return
	}
	sub, err := m.Verifier.Verify(token)
	if err != nil {
		m.reject(w, r, err)
		return
	}
	if sub != m.UserID {
		m.reject(w, r, ErrWrongUser)
		return
	}
	m.Next.ServeHTTP(w, r)
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.Logger.Info("Unauthorized request",
		"path", r.URL.Path,
		"error", err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized"}` + "\n"))
}
