// Package identity resolves the caller behind a connection from a signed token.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"livesync/internal/identity/config"
	"livesync/pkg/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller. Level is compared against permission
// thresholds.
type Identity struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// IsAnonymous reports whether the caller presented no token.
func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}

type Claims struct {
	Level int `json:"level"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret         []byte
	required       bool
	anonymousLevel int
	ttl            time.Duration
}

func NewAuthenticator(cfg config.Config) *Authenticator {
	return &Authenticator{
		secret:         []byte(cfg.Secret),
		required:       cfg.Required,
		anonymousLevel: cfg.AnonymousLevel,
		ttl:            cfg.TokenTTL,
	}
}

// Required reports whether callers must present a token.
func (a *Authenticator) Required() bool {
	return a.required
}

// Anonymous returns the identity of callers without a token.
func (a *Authenticator) Anonymous() Identity {
	return Identity{Level: a.anonymousLevel}
}

// Authenticate resolves a token. An empty token yields the anonymous identity
// unless tokens are required.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if token == "" {
		if a.required {
			return Identity{}, model.PermissionDeniedf("authentication required")
		}
		return a.Anonymous(), nil
	}
	return a.ValidateToken(token)
}

func (a *Authenticator) ValidateToken(tokenString string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{ID: claims.Subject, Level: claims.Level}, nil
}

// IssueToken signs a token for id at level.
func (a *Authenticator) IssueToken(id string, level int) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	now := time.Now()
	claims := Claims{
		Level: level,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
