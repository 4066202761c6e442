// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// CookieName is the cookie the edge reads the token from.
const CookieName = "auth_token"

// Provider issues and verifies EdDSA session tokens. Tokens carry the
// participant id in "sub" and the display name in "name".
type Provider struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TTL is how long issued tokens live; zero means they never expire.
	TTL time.Duration
}

// NewProvider generates a fresh ed25519 key pair at runtime.
func NewProvider(ttl time.Duration) (*Provider, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Provider{privateKey: priv, publicKey: pub, TTL: ttl}, nil
}

// NewProviderFromPath reads a raw ed25519 key pair from disk.
func NewProviderFromPath(privatePath, publicPath string, ttl time.Duration) (*Provider, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files are not raw ed25519 keys")
	}
	return &Provider{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		TTL:        ttl,
	}, nil
}

// Issue signs a token for the participant.
func (p *Provider) Issue(participantID, displayName string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  participantID,
		"name": displayName,
		"iat":  time.Now().Unix(),
	}
	if p.TTL > 0 {
		claims["exp"] = time.Now().Add(p.TTL).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(p.privateKey)
}

// Verify checks a token and returns the identity it carries. Every failure is
// an auth_error.
func (p *Provider) Verify(tokenString string) (models.Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.publicKey, nil
	})
	if err != nil {
		return models.Identity{}, protocol.Errorf(protocol.CodeAuth, "jwt parse error: %v", err)
	}
	if !t.Valid {
		return models.Identity{}, protocol.Errorf(protocol.CodeAuth, "invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, protocol.Errorf(protocol.CodeAuth, "invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return models.Identity{}, protocol.Errorf(protocol.CodeAuth, "missing sub in jwt")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return models.Identity{ParticipantID: sub, DisplayName: name, SessionToken: tokenString}, nil
}

// Identify authenticates an HTTP request by the auth_token cookie, a bearer
// Authorization header, or a token query parameter, in that order.
func (p *Provider) Identify(r *http.Request) (models.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return models.Identity{}, protocol.Errorf(protocol.CodeAuth, "missing %s", CookieName)
	}
	return p.Verify(token)
}

// TokenFromRequest extracts the raw token, or "".
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
