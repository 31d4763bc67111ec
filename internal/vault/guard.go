package vault

import (
	"context"
	"sync"
)

type operationKey struct{}

// enter marks ctx as belonging to a running mutation. Collaborators called
// during the operation receive the marked context; if they call back into a
// mutating vault method with it, the call fails instead of deadlocking on the
// writer lock.
//
// Only re-entry on a context derived from the operation's is detected. A
// callback on an unrelated context looks like any other concurrent caller
// and waits on the Locker until that context ends.
func enter(ctx context.Context, op string) (context.Context, error) {
	if _, busy := ctx.Value(operationKey{}).(string); busy {
		return ctx, ErrReentrantCall
	}
	return context.WithValue(ctx, operationKey{}, op), nil
}

// Locker serializes vault mutations. The returned func releases the lock.
// Locks are not reentrant: a second Lock from inside a held operation waits
// until its ctx is done, so callers that may re-enter must pass a bounded ctx.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker is an in-process Locker. Waiting honours ctx cancellation.
type LocalLocker struct {
	sem chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
