// Package audit records branch activity as Log documents.
package audit

import (
	"context"

	appctx "poscore/internal/core/context"
	"poscore/internal/core/entity"
	"poscore/internal/domain"
	"poscore/pkg/logger"
)

// Action names a logged activity.
type Action string

const (
	ActionSale       Action = "sale"
	ActionReturn     Action = "return"
	ActionStockCount Action = "stock_count"
)

// Log is an audit record.
type Log struct {
	entity.BaseDocument

	Action    Action `json:"action"`
	Entity    string `json:"entity"`
	EntityID  string `json:"entityId"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Validate implements entity.Validatable interface.
func (l *Log) Validate(ctx context.Context) error {
	if err := entity.Required("action", string(l.Action)); err != nil {
		return err
	}
	return entity.Required("message", l.Message)
}

// Recorder writes logs on a best-effort basis.
type Recorder struct {
	logs *domain.DocumentService[*Log]
}

// NewRecorder creates a recorder writing through logs.
func NewRecorder(logs *domain.DocumentService[*Log]) *Recorder {
	return &Recorder{logs: logs}
}

// Record stores entry. Failures are logged and never returned.
func (r *Recorder) Record(ctx context.Context, entry *Log) {
	if r == nil || r.logs == nil {
		return
	}
	if entry.RequestID == "" {
		entry.RequestID = appctx.GetRequestID(ctx)
	}
	if err := r.logs.Create(ctx, entry); err != nil {
		logger.Warn(ctx, "audit log write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
