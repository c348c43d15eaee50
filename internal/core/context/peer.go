package context

import (
	"context"
)

// PeerContext identifies an authenticated replication peer.
type PeerContext struct {
	NodeID string
	Scopes []string
}

type peerContextKey struct{}

// WithPeer adds PeerContext to context.
func WithPeer(ctx context.Context, peer *PeerContext) context.Context {
	return context.WithValue(ctx, peerContextKey{}, peer)
}

// GetPeer returns PeerContext from context.
func GetPeer(ctx context.Context) *PeerContext {
	if v, ok := ctx.Value(peerContextKey{}).(*PeerContext); ok {
		return v
	}
	return nil
}

// HasScope reports whether the peer in ctx was granted scope.
func HasScope(ctx context.Context, scope string) bool {
	p := GetPeer(ctx)
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
