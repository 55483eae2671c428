// Package token issues and verifies HS256 access tokens.
package token

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/teatribe/tribes/internal/model"
)

// Claims carries the account id (subject) and role.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// Identity is the authenticated caller resolved from an access token.
type Identity struct {
	AccountID uuid.UUID
	Role      model.Role
}

// Manager signs and parses access tokens with a shared key.
type Manager struct {
	key    []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewManager constructs a token manager.
func NewManager(key []byte, ttl time.Duration) *Manager {
	return &Manager{key: key, ttl: ttl, leeway: 30 * time.Second, now: time.Now}
}

// Issue creates a signed HS256 JWT for the given account.
func (m *Manager) Issue(accountID uuid.UUID, role model.Role) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	return signed, exp, err
}

// Parse verifies tok and returns the identity it carries.
func (m *Manager) Parse(tok string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return m.key, nil
	}, jwt.WithLeeway(m.leeway), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Identity{}, errors.New("bad subject")
	}
	return Identity{AccountID: id, Role: claims.Role}, nil
}
