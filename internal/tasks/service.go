// Package tasks runs named units of work on a fixed pool of goroutines.
package tasks

import (
	"fmt"
	"runtime/debug"
	"sync"

	"modidx/internal/modidx"
	"modidx/internal/notify"
)

// DefaultWorkers is the pool size used when NewService is given none.
const DefaultWorkers = 4

// Listener is notified synchronously of every submission.
type Listener func(h *Handle)

// Service is a bounded worker pool. Submit never blocks on running work.
type Service struct {
	logger    modidx.Logger
	listeners notify.Registry[Listener]

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Handle
	tracked []*Handle
	nextID  int64
	closed  bool
}

// NewService starts a pool of workers goroutines. A non-positive count
// uses DefaultWorkers and a nil logger discards output.
func NewService(workers int, logger modidx.Logger) *Service {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = modidx.NewNopLogger()
	}

	s := &Service{logger: logger}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Submit queues fn under name and returns its handle. Every listener has
// been called with the handle by the time Submit returns.
func (s *Service) Submit(name string, fn Func) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	s.nextID++
	h := newHandle(s.nextID, name, fn)
	s.tracked = append(s.tracked, h)
	s.queue = append(s.queue, h)
	s.cond.Signal()
	s.mu.Unlock()

	s.logger.Debug("task submitted", "task_id", h.ID(), "name", name)
	for _, l := range s.listeners.Snapshot() {
		l(h)
	}
	return h, nil
}

// Listen registers l for submission notifications and returns a func that
// removes it.
func (s *Service) Listen(l Listener) func() {
	return s.listeners.Add(l)
}

// ActiveTasks returns a copy of every tracked handle in submission order,
// finished ones included until CleanupFinished removes them.
func (s *Service) ActiveTasks() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.tracked))
	copy(out, s.tracked)
	return out
}

// CleanupFinished stops tracking every finished task and returns how many
// were removed.
func (s *Service) CleanupFinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tracked[:0]
	for _, h := range s.tracked {
		if !h.State().Finished() {
			kept = append(kept, h)
		}
	}
	removed := len(s.tracked) - len(kept)
	for i := len(kept); i < len(s.tracked); i++ {
		s.tracked[i] = nil
	}
	s.tracked = kept
	return removed
}

// Shutdown stops accepting work and cancels everything still queued.
// Running tasks are left to finish; Shutdown does not wait for them.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	cancelled := 0
	for _, h := range queued {
		if h.Cancel() {
			cancelled++
		}
	}
	s.logger.Debug("task service shut down", "cancelled", cancelled)
}

func (s *Service) worker() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		h := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(h)
	}
}

func (s *Service) run(h *Handle) {
	if !h.start() {
		return
	}

	result, err := call(h.fn)
	if err != nil {
		s.logger.Warn("task failed", "task_id", h.ID(), "name", h.Name(), "error", err)
		h.finish(result, err, StateFailed, StateRunning)
		return
	}
	s.logger.Debug("task finished", "task_id", h.ID(), "name", h.Name())
	h.finish(result, nil, StateDone, StateRunning)
}

// call runs fn, converting a panic into a *PanicError.
func call(fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if fn == nil {
		return nil, fmt.Errorf("nil task func")
	}
	return fn()
}
