// Package auth issues and validates the bearer tokens replication peers
// present to each other.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appctx "poscore/internal/core/context"
)

// ScopeReplicate grants access to the replication endpoints.
const ScopeReplicate = "replicate"

// ErrInvalidToken is returned for tokens that fail parsing or verification.
var ErrInvalidToken = errors.New("invalid replication token")

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:   secret,
		Issuer:   "poscore",
		TokenTTL: 15 * time.Minute,
	}
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	NodeID string   `json:"node"`
	Scopes []string `json:"scopes"`
}

// JWTService handles JWT operations.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 15 * time.Minute
	}
	return &JWTService{config: config, now: time.Now}
}

// GenerateToken issues a token for nodeID.
func (s *JWTService) GenerateToken(nodeID string, scopes ...string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		NodeID: nodeID,
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token and returns the peer it was issued to.
func (s *JWTService) ValidateToken(tokenString string) (*appctx.PeerContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.NodeID == "" {
		return nil, ErrInvalidToken
	}

	return &appctx.PeerContext{
		NodeID: claims.NodeID,
		Scopes: claims.Scopes,
	}, nil
}

// TokenSource caches one token and reissues it shortly before expiry.
type TokenSource struct {
	jwt    *JWTService
	nodeID string
	scopes []string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source for nodeID.
func NewTokenSource(svc *JWTService, nodeID string, scopes ...string) *TokenSource {
	return &TokenSource{jwt: svc, nodeID: nodeID, scopes: scopes}
}

// Token returns a valid token.
func (t *TokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && t.jwt.now().Add(30*time.Second).Before(t.expiresAt) {
		return t.token, nil
	}
	token, expiresAt, err := t.jwt.GenerateToken(t.nodeID, t.scopes...)
	if err != nil {
		return "", err
	}
	t.token, t.expiresAt = token, expiresAt
	return token, nil
}
