// Package poll runs a probe at a fixed interval until it reports a
// terminal result, an optional deadline passes, or the caller cancels.
//
// A Handle owns one loop. Probes never overlap: the next interval is
// measured from the moment the previous probe settled. Exactly one of
// {done, failed, timeout, silently cancelled} happens per handle.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"k8s.io/utils/clock"
)

// Status is the tri-state result of one probe invocation.
type Status int

const (
	Continue Status = iota
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what a probe reports for one tick.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Next keeps the loop going, optionally carrying an intermediate value.
func Next[T any](value T) Result[T] {
	return Result[T]{Status: Continue, Value: value}
}

// Finish stops the loop with a terminal value.
func Finish[T any](value T) Result[T] {
	return Result[T]{Status: Done, Value: value}
}

// Fail stops the loop with an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Status: Failed, Err: err}
}

// Probe performs one check. ctx is cancelled when the handle is.
type Probe[T any] func(ctx context.Context) Result[T]

// OutcomeKind tells how a loop ended.
type OutcomeKind int

const (
	OutcomeDone OutcomeKind = iota + 1
	OutcomeFailed
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is delivered once when the loop ends on its own.
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
}

// Options configures a loop.
type Options[T any] struct {
	// Interval between the end of one probe and the start of the next.
	Interval time.Duration
	// Deadline measured from Start. Zero means unbounded.
	Deadline time.Duration
	// Immediate runs the first probe without waiting one interval.
	Immediate bool
	// OnProgress receives the value of every Continue result.
	OnProgress func(T)
	// OnOutcome receives the terminal outcome, at most once.
	OnOutcome func(Outcome[T])
}

type handleState int

const (
	stateRunning handleState = iota
	stateFinished
	stateCancelled
)

// Handle is one running loop.
//
// Callbacks run on the loop goroutine while the handle lock is held, so
// once Cancel returns no callback is running or will run. Callbacks must
// not call Cancel on the handle that invoked them.
type Handle struct {
	mu          sync.Mutex
	state       handleState
	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	cancelProbe context.CancelFunc
}

// Cancel stops the loop. It is idempotent and safe on a nil handle. A
// probe in flight has its context cancelled and its result discarded.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.state == stateRunning {
		h.state = stateCancelled
	}
	h.mu.Unlock()
	h.stopOnce.Do(func() {
		close(h.stop)
		h.cancelProbe()
	})
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stopped reports whether the loop finished or was cancelled.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state != stateRunning
}

// Cancelled reports whether the loop was stopped by Cancel or by its
// parent context rather than by an outcome.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateCancelled
}

// Start launches a loop and returns its handle. The first probe runs one
// interval after Start unless opts.Immediate is set. Cancelling ctx has
// the same effect as Cancel. Start panics if opts.Interval is not
// positive.
func Start[T any](ctx context.Context, clk clock.Clock, probe Probe[T], opts Options[T]) *Handle {
	if opts.Interval <= 0 {
		panic("poll: non-positive interval")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	probeCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		cancelProbe: cancel,
	}
	l := &loop[T]{
		handle: h,
		clock:  clk,
		probe:  probe,
		opts:   opts,
	}
	if opts.Deadline > 0 {
		l.deadlineAt = clk.Now().Add(opts.Deadline)
		l.deadline = clk.NewTimer(opts.Deadline)
	}
	if !opts.Immediate {
		l.tick = clk.NewTimer(opts.Interval)
	}
	threading.GoSafe(func() {
		l.run(probeCtx)
	})
	return h
}

type loop[T any] struct {
	handle     *Handle
	clock      clock.Clock
	probe      Probe[T]
	opts       Options[T]
	deadline   clock.Timer
	deadlineAt time.Time
	tick       clock.Timer
}

func (l *loop[T]) run(ctx context.Context) {
	defer close(l.handle.done)
	defer l.handle.cancelProbe()
	defer func() {
		if l.tick != nil {
			l.tick.Stop()
		}
		if l.deadline != nil {
			l.deadline.Stop()
		}
	}()

	var deadlineC <-chan time.Time
	if l.deadline != nil {
		deadlineC = l.deadline.C()
	}

	for {
		if l.tick != nil {
			select {
			case <-l.handle.stop:
				return
			case <-ctx.Done():
				l.handle.Cancel()
				return
			case <-deadlineC:
				l.finish(Outcome[T]{Kind: OutcomeTimeout})
				return
			case <-l.tick.C():
			}
		}
		if l.expired() {
			l.finish(Outcome[T]{Kind: OutcomeTimeout})
			return
		}
		if l.handle.Stopped() {
			return
		}

		results := make(chan Result[T], 1)
		go l.invoke(ctx, results)

		var res Result[T]
		select {
		case <-l.handle.stop:
			return
		case <-ctx.Done():
			l.handle.Cancel()
			return
		case <-deadlineC:
			l.finish(Outcome[T]{Kind: OutcomeTimeout})
			return
		case res = <-results:
		}

		switch res.Status {
		case Done:
			l.finish(Outcome[T]{Kind: OutcomeDone, Value: res.Value})
			return
		case Failed:
			l.finish(Outcome[T]{Kind: OutcomeFailed, Err: res.Err})
			return
		}

		// Arm the next tick before reporting progress so that anything
		// observing progress sees the loop already waiting.
		l.tick = l.clock.NewTimer(l.opts.Interval)
		if !l.progress(res.Value) {
			return
		}
	}
}

func (l *loop[T]) invoke(ctx context.Context, results chan<- Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			results <- Fail[T](fmt.Errorf("poll: probe panicked: %v", r))
		}
	}()
	results <- l.probe(ctx)
}

func (l *loop[T]) expired() bool {
	if l.deadline == nil {
		return false
	}
	return !l.clock.Now().Before(l.deadlineAt)
}

func (l *loop[T]) progress(value T) bool {
	l.handle.mu.Lock()
	defer l.handle.mu.Unlock()
	if l.handle.state != stateRunning {
		return false
	}
	if l.opts.OnProgress != nil {
		l.opts.OnProgress(value)
	}
	return true
}

func (l *loop[T]) finish(outcome Outcome[T]) {
	l.handle.mu.Lock()
	defer l.handle.mu.Unlock()
	if l.handle.state != stateRunning {
		return
	}
	l.handle.state = stateFinished
	if l.opts.OnOutcome != nil {
		l.opts.OnOutcome(outcome)
	}
}
