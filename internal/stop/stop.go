// Package stop provides the cooperative cancellation token checked at fixed
// points throughout the pipeline. A stop is user-initiated and is reported
// distinctly from failure.
package stop

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// ErrStopped is returned by Check once a stop was requested. Callers detect
// it with eris.Is and report the run as stopped, not failed.
var ErrStopped = eris.New("stop requested")

// Token carries the stop signal through call chains. The zero value is not
// usable; construct with New.
type Token struct {
	ctx  context.Context
	flag atomic.Bool
}

// New creates a token tied to the given context. Cancelling the context has
// the same effect as calling Stop.
func New(ctx context.Context) *Token {
	return &Token{ctx: ctx}
}

// Stop requests cancellation. Safe to call from any goroutine, repeatedly.
func (t *Token) Stop() {
	t.flag.Store(true)
}

// IsStopped reports whether a stop has been requested.
func (t *Token) IsStopped() bool {
	return t.flag.Load() || t.ctx.Err() != nil
}

// Check returns ErrStopped if a stop has been requested, nil otherwise.
func (t *Token) Check() error {
	if t.IsStopped() {
		return ErrStopped
	}
	return nil
}
