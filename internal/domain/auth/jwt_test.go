package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))

	token, expiresAt, err := svc.GenerateToken("branch-1", ScopeReplicate)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	peer, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "branch-1", peer.NodeID)
	assert.Equal(t, []string{ScopeReplicate}, peer.Scopes)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	other := NewJWTService(DefaultJWTConfig("other"))

	foreign, _, err := other.GenerateToken("branch-1", ScopeReplicate)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = svc.ValidateToken("not-a-token")
	assert.True(t, errors.Is(err, ErrInvalidToken))

	past := NewJWTService(DefaultJWTConfig("secret"))
	past.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := past.GenerateToken("branch-1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestTokenSource_Reuse(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	now := time.Now()
	svc.now = func() time.Time { return now }
	src := NewTokenSource(svc, "branch-1", ScopeReplicate)

	first, err := src.Token()
	require.NoError(t, err)
	second, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(15 * time.Minute)
	third, err := src.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
