package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmerrifield20/NodeRegistrar/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, "https://registrar.example.com", time.Hour)
	require.NoError(t, err)
	return ti
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	_, err := identity.NewTokenIssuer("short", "https://registrar.example.com", 0)
	assert.Error(t, err)
}

func TestNewTokenIssuer_defaultTTL(t *testing.T) {
	ti, err := identity.NewTokenIssuer(testSecret, "https://registrar.example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, ti.TTL())
	assert.Equal(t, time.Hour, newTestTokenIssuer(t).TTL())
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, expires, err := ti.Issue("u-1", "registrar", "registrar")
	require.NoError(t, err)

	assert.Len(t, strings.Split(token, "."), 3)
	assert.WithinDuration(t, time.Now().Add(ti.TTL()), expires, time.Minute)
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, _, err := ti.Issue("u-1", "ops", "admin")
	require.NoError(t, err)

	claims, err := ti.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Login)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti, err := identity.NewTokenIssuer(testSecret, "https://registrar.example.com", time.Nanosecond)
	require.NoError(t, err)
	token, _, err := ti.Issue("u-1", "ops", "admin")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	_, err = ti.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_tamperedSignature(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, _, err := ti.Issue("u-1", "ops", "viewer")
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = ti.Verify(tampered)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti1 := newTestTokenIssuer(t)
	ti2, err := identity.NewTokenIssuer(strings.Repeat("x", 32), "https://registrar.example.com", time.Hour)
	require.NoError(t, err)

	token, _, _ := ti1.Issue("u-1", "ops", "admin")
	_, err = ti2.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	ti1, _ := identity.NewTokenIssuer(testSecret, "https://a.example.com", time.Hour)
	ti2, _ := identity.NewTokenIssuer(testSecret, "https://b.example.com", time.Hour)

	token, _, _ := ti1.Issue("u-1", "ops", "admin")
	_, err := ti2.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_rejectsOtherTokenTypes(t *testing.T) {
	ti := newTestTokenIssuer(t)
	claims := identity.CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://registrar.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Login: "ops",
		Type:  "refresh",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ti.Verify(token)
	assert.Error(t, err)
}
