// internal/auth/session_test.go
package auth

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	p, err := NewProvider(time.Hour)
	require.NoError(t, err)

	token, err := p.Issue("alice-id", "Alice")
	require.NoError(t, err)

	id, err := p.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice-id", id.ParticipantID)
	assert.Equal(t, "Alice", id.DisplayName)
	assert.Equal(t, token, id.SessionToken)
	assert.True(t, id.Valid())
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	p1, err := NewProvider(0)
	require.NoError(t, err)
	p2, err := NewProvider(0)
	require.NoError(t, err)

	token, err := p1.Issue("alice-id", "Alice")
	require.NoError(t, err)
	_, err = p2.Verify(token)
	assert.ErrorIs(t, err, protocol.ErrAuth)
}

func TestVerifyRejectsExpired(t *testing.T) {
	p, err := NewProvider(0)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "alice-id",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := token.SignedString(p.privateKey)
	require.NoError(t, err)

	_, err = p.Verify(signed)
	assert.ErrorIs(t, err, protocol.ErrAuth)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	p, err := NewProvider(0)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice-id"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = p.Verify(signed)
	assert.ErrorIs(t, err, protocol.ErrAuth)
}

func TestMissingNameFallsBackToID(t *testing.T) {
	p, err := NewProvider(0)
	require.NoError(t, err)
	token, err := p.Issue("bob-id", "")
	require.NoError(t, err)
	id, err := p.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "bob-id", id.DisplayName)
}

func TestIdentifyReadsEverySource(t *testing.T) {
	p, err := NewProvider(0)
	require.NoError(t, err)
	token, err := p.Issue("carol-id", "Carol")
	require.NoError(t, err)

	cookie := httptest.NewRequest(http.MethodGet, "/ws", nil)
	cookie.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	bearer := httptest.NewRequest(http.MethodGet, "/ws", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)

	query := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	for name, r := range map[string]*http.Request{"cookie": cookie, "bearer": bearer, "query": query} {
		t.Run(name, func(t *testing.T) {
			id, err := p.Identify(r)
			require.NoError(t, err)
			assert.Equal(t, "carol-id", id.ParticipantID)
		})
	}

	_, err = p.Identify(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, protocol.ErrAuth)
}

func TestProviderFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "key")
	pubPath := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	p, err := NewProviderFromPath(privPath, pubPath, 0)
	require.NoError(t, err)
	token, err := p.Issue("dave-id", "Dave")
	require.NoError(t, err)
	_, err = p.Verify(token)
	assert.NoError(t, err)

	_, err = NewProviderFromPath(filepath.Join(dir, "missing"), pubPath, 0)
	assert.Error(t, err)
}
