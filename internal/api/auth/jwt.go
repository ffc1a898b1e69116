// Package auth mints and verifies the short-lived JWTs workers and
// dashboards present to internal/api, adapted from the teacher's
// internal/auth JWT manager and narrowed to a single "subject" claim (a
// worker ID) instead of user/tenant.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pytake/pytake-go/internal/config"
)

// Claims identifies the worker or dashboard session a token was minted for.
type Claims struct {
	WorkerID string `json:"worker_id"`
	Role     string `json:"role"` // "worker" or "admin"
	jwt.RegisteredClaims
}

// Manager issues and validates bearer tokens against cfg's signing key.
type Manager struct {
	cfg *config.Config
}

// NewManager builds a Manager bound to cfg.JWTSecret/JWTExpiration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// IssueToken mints a signed JWT for workerID with the given role, valid for
// cfg.JWTExpiration.
func (m *Manager) IssueToken(workerID, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.cfg.JWTExpiration)

	claims := &Claims{
		WorkerID: workerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{m.cfg.JWTAudience},
			Subject:   workerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(m.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
