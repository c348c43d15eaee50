// Package idempotency stores the outcome of requests sent with an
// X-Idempotency-Key so that retries replay the first response.
package idempotency

import (
	"context"
	"time"

	"poscore/internal/core/apperror"
)

// Status represents the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StaleAfter is how long a pending key may stay pending before another
// request may reclaim it.
const StaleAfter = time.Minute

// Fingerprint identifies the request a key was first used for.
type Fingerprint struct {
	Caller      string `json:"caller"`
	Operation   string `json:"operation"`
	RequestHash string `json:"requestHash"` // SHA256 of request body
}

// Record is the stored state of a key.
type Record struct {
	Fingerprint
	Status      Status    `json:"status"`
	StatusCode  int       `json:"statusCode,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Replay is the cached HTTP response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store manages idempotency keys.
type Store interface {
	// Acquire claims key for fp. It returns (nil, nil) when the caller should
	// process the request, a Replay when the request already completed, and
	// an error when the key is in use or belongs to a different request.
	Acquire(ctx context.Context, key string, fp Fingerprint) (*Replay, error)
	// Complete stores a successful response.
	Complete(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
	// Fail stores an error response.
	Fail(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
}

// Resolve decides what to do with an existing record. reclaim reports that
// a stale pending key may be taken over.
func Resolve(key string, rec *Record, fp Fingerprint, now time.Time) (replay *Replay, reclaim bool, err error) {
	if rec.Fingerprint != fp {
		return nil, false, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", rec.Operation).
			WithDetail("request_operation", fp.Operation)
	}

	switch rec.Status {
	case StatusSuccess, StatusFailed:
		return &Replay{
			StatusCode:  normalizeReplayStatus(rec.StatusCode),
			ContentType: normalizeReplayContentType(rec.ContentType),
			Body:        rec.Body,
		}, false, nil
	default:
		if now.Sub(rec.UpdatedAt) > StaleAfter {
			return nil, true, nil
		}
		return nil, false, apperror.NewIdempotencyConflict(key)
	}
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}
