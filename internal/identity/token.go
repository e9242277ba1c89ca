package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenType distinguishes caller tokens from any other JWT signed with the
// same secret.
const tokenType = "caller"

// minSecretLen is the shortest HMAC secret NewTokenIssuer accepts.
const minSecretLen = 32

// CallerClaims are the JWT claims of a caller token.
type CallerClaims struct {
	jwt.RegisteredClaims
	Login string `json:"login"`
	Role  string `json:"role"`
	Type  string `json:"type"`
}

// TokenIssuer issues and verifies caller tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	secret    - HMAC key, at least 32 bytes.
//	issuerURL - The "iss" claim value; typically the registrar's base URL.
//	ttl       - Token lifetime (default: 8 hours).
func NewTokenIssuer(secret, issuerURL string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuerURL, ttl: ttl}, nil
}

// Issue creates a signed token for login with role. It returns the token and
// its expiry.
func (t *TokenIssuer) Issue(userID, login, role string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(t.ttl)
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.New().String(),
		},
		Login: login,
		Role:  role,
		Type:  tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates a caller token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*CallerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&CallerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Type != tokenType || claims.Login == "" {
		return nil, errors.New("not a caller token")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
