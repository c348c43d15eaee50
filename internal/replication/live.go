package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"poscore/internal/core/apperror"
	appctx "poscore/internal/core/context"
)

// State is the live replication state.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StatePaused  State = "paused" // peer unreachable; resumes when a probe succeeds
	StateStopped State = "stopped"
	StateFailed  State = "failed" // terminal error, not retried
)

// Status is a snapshot of live replication.
type Status struct {
	State      State     `json:"state"`
	LastResult *Result   `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	LastSyncAt time.Time `json:"lastSyncAt,omitempty"`
}

// Status returns the current live replication status.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) setState(state State, result *Result, err error) {
	e.statusMu.Lock()
	changed := e.status.State != state
	e.status.State = state
	if result != nil {
		e.status.LastResult = result
		e.status.LastSyncAt = time.Now().UTC()
		e.status.LastError = ""
	}
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.statusMu.Unlock()

	if changed {
		e.metrics.StateChanged(string(state))
		e.log.Infow("replication state changed", "state", state)
	}
}

// Handle controls a live replication loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the loop and waits for it to exit. In-flight store operations complete first.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed when the loop exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// StartLive runs continuous replication until the handle is cancelled, ctx
// ends, or a terminal error occurs. It syncs on start, on every interval tick
// and after local writes.
func (e *Engine) StartLive(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	wake := make(chan struct{}, 1)
	var unsubscribe []func()
	for _, name := range e.cfg.Collections {
		c, err := e.local.Collection(name)
		if err != nil {
			continue
		}
		ch, unsub := c.Subscribe()
		unsubscribe = append(unsubscribe, unsub)
		go forward(ctx, ch, wake)
	}

	e.setState(StateActive, nil, nil)

	go func() {
		defer close(h.done)
		defer func() {
			for _, unsub := range unsubscribe {
				unsub()
			}
		}()
		e.runLive(ctx, wake)
	}()
	return h
}

func forward(ctx context.Context, from <-chan struct{}, to chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-from:
			select {
			case to <- struct{}{}:
			default:
			}
		}
	}
}

func (e *Engine) runLive(ctx context.Context, wake <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	if !e.cycle(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			e.setState(StateStopped, nil, nil)
			return
		case <-ticker.C:
		case <-wake:
		}
		if !e.cycle(ctx) {
			return
		}
	}
}

// cycle runs one live iteration and reports whether the loop should continue.
func (e *Engine) cycle(ctx context.Context) bool {
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())

	if e.Status().State == StatePaused {
		if err := e.Probe(ctx); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				e.setState(StateFailed, nil, err)
				return false
			}
			return ctx.Err() == nil
		}
	}

	result, err := e.SyncOnce(ctx)
	switch {
	case err == nil:
		e.setState(StateActive, &result, nil)
		return true
	case ctx.Err() != nil:
		e.setState(StateStopped, nil, nil)
		return false
	case apperror.IsTerminalSync(err):
		e.setState(StateFailed, nil, err)
		return false
	default:
		e.setState(StatePaused, nil, err)
		return true
	}
}
