// Package browser wraps a remote-debugging browser automation protocol
// behind the narrow set of primitives the session lifecycle needs. A
// bounded wait that elapses is an expected negative result reported as
// ErrElementNotFound, never a fatal error; only launch/protocol failures
// surface as DriverError.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrElementNotFound reports that a bounded element wait elapsed without
// the element appearing. Polling logic treats this as a normal negative
// probe result.
var ErrElementNotFound = errors.New("element not found within wait bound")

// DriverError is a fatal browser or protocol failure: the browser failed
// to launch, the page crashed, or the debugging connection died.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// Driver controls one isolated browser instance with a single page. All
// waits are bounded by the given timeout; Close is idempotent and safe on
// a driver that never launched.
type Driver interface {
	Launch(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Type(ctx context.Context, selector, text string, timeout time.Duration) error
	Eval(ctx context.Context, js string) error
	// Expose registers a page-global function; the page calls it with a
	// single JSON string argument delivered to fn on the driver's event
	// goroutine.
	Expose(ctx context.Context, name string, fn func(payload string)) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
