package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ResourceTracker collects the disposable resources one generation of a
// module creates. Dispose releases them in reverse registration order, each
// exactly once. After Dispose, Track releases new resources immediately.
type ResourceTracker struct {
	mu       sync.Mutex
	items    []*resource
	disposed bool
	log      zerolog.Logger
}

type resource struct {
	handle  any
	dispose func() error
	once    sync.Once
}

func (r *resource) release() (err error) {
	r.once.Do(func() {
		if r.dispose == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("disposer panicked: %v", p)
			}
		}()
		err = r.dispose()
	})
	return err
}

// NewResourceTracker returns an empty tracker.
func NewResourceTracker(log zerolog.Logger) *ResourceTracker {
	return &ResourceTracker{log: log}
}

// Track registers handle with its disposer and returns handle. A nil
// disposer records the handle without any release action.
func (t *ResourceTracker) Track(handle any, dispose func() error) any {
	r := &resource{handle: handle, dispose: dispose}
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		if err := r.release(); err != nil {
			t.log.Warn().Err(err).Msg("late resource disposal failed")
		}
		return handle
	}
	t.items = append(t.items, r)
	t.mu.Unlock()
	return handle
}

// Len returns the number of live resources.
func (t *ResourceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Disposed reports whether Dispose has run.
func (t *ResourceTracker) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Dispose releases every tracked resource, newest first, and returns how
// many were released. Failing disposers do not stop the rest; their errors
// are joined. Calling Dispose again releases nothing.
func (t *ResourceTracker) Dispose() (int, error) {
	t.mu.Lock()
	items := t.items
	t.items = nil
	t.disposed = true
	t.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].release(); err != nil {
			errs = append(errs, err)
		}
	}
	return len(items), errors.Join(errs...)
}
