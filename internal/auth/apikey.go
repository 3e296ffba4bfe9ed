package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// WebhookScope builds the permission string guarding one flow's endpoint.
func WebhookScope(flow string) string {
	return "webhook:" + flow
}

// Claims is the payload of a scoped API key: the tenant it acts for and the
// permission strings it carries.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

var (
	// ErrInvalidKey covers malformed, unsigned or expired keys.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrScopeMissing means the key is valid but lacks the required permission.
	ErrScopeMissing = errors.New("api key lacks required scope")
)

// KeyIssuer mints and verifies scoped API keys signed with the service secret.
type KeyIssuer struct {
	secret []byte
	issuer string
}

// NewKeyIssuer creates an issuer bound to the shared signing secret.
func NewKeyIssuer(secret, issuer string) *KeyIssuer {
	return &KeyIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue mints a key for a tenant with the given scopes. A zero ttl means the
// key does not expire.
func (k *KeyIssuer) Issue(tenantID uuid.UUID, scopes []string, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID: tenantID.String(),
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   k.issuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign api key: %w", err)
	}
	return signed, nil
}

// Verify parses a key, checks its signature and the required scope, and
// returns the tenant it is bound to.
func (k *KeyIssuer) Verify(tokenString, requiredScope string) (uuid.UUID, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return k.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidKey
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return uuid.Nil, ErrInvalidKey
	}
	for _, scope := range claims.Scopes {
		if scope == requiredScope {
			return tenantID, nil
		}
	}
	return uuid.Nil, ErrScopeMissing
}
