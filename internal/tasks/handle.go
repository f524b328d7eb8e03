package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle stage of a submitted task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Finished reports whether s is a terminal state.
func (s State) Finished() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

var (
	// ErrCancelled is the result error of a task cancelled before it started.
	ErrCancelled = errors.New("task cancelled")

	// ErrShutdown is returned by Submit once the service has been shut down.
	ErrShutdown = errors.New("task service shut down")

	// ErrNotFinished is returned by Result while the task is pending or running.
	ErrNotFinished = errors.New("task not finished")
)

// PanicError carries a value recovered from a panicking unit of work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Func is a unit of work run by the service.
type Func func() (any, error)

// Handle is the caller's reference to a submitted task. The service owns
// the task; the handle is only used to observe or cancel it.
type Handle struct {
	id   int64
	name string
	fn   Func
	done chan struct{}

	mu        sync.Mutex
	state     State
	result    any
	err       error
	callbacks []func(*Handle)
}

func newHandle(id int64, name string, fn Func) *Handle {
	return &Handle{
		id:    id,
		name:  name,
		fn:    fn,
		done:  make(chan struct{}),
		state: StatePending,
	}
}

// ID returns the task id, unique and increasing within one service.
func (h *Handle) ID() int64 { return h.id }

// Name returns the name given at submission.
func (h *Handle) Name() string { return h.name }

// State returns the current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel stops a task that has not started yet and reports whether it did.
// A running or finished task is unaffected and Cancel returns false.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.state != StatePending {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()
	return h.finish(nil, ErrCancelled, StateCancelled, StatePending)
}

// Result returns the outcome of a finished task without blocking.
// It returns ErrNotFinished while the task is pending or running and
// ErrCancelled for a cancelled task.
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Finished() {
		return nil, ErrNotFinished
	}
	return h.result, h.err
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnDone registers fn to run once the task finishes. fn runs on the
// goroutine that finished the task, or immediately if it already has.
func (h *Handle) OnDone(fn func(*Handle)) {
	h.mu.Lock()
	if !h.state.Finished() {
		h.callbacks = append(h.callbacks, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn(h)
}

// start moves a pending task to running. It returns false if the task was
// cancelled first.
func (h *Handle) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePending {
		return false
	}
	h.state = StateRunning
	return true
}

// finish records the outcome if the task is still in state from, then runs
// the completion callbacks.
func (h *Handle) finish(result any, err error, to, from State) bool {
	h.mu.Lock()
	if h.state != from {
		h.mu.Unlock()
		return false
	}
	h.state = to
	h.result = result
	h.err = err
	callbacks := h.callbacks
	h.callbacks = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(h)
	}
	return true
}
