// Package tracker follows one submission from creation to verdict.
//
// A Tracker creates the submission, then polls its status every interval
// until the backend reports a verdict, the deadline passes, a poll fails,
// or the owner cancels. Each state change reaches the observer exactly
// once, and nothing reaches it after Cancel or Close returns or from a
// submission that a newer Submit replaced.
package tracker

import (
	"context"
	"sync"
	"time"

	"shodhcode/internal/cli/api"
	"shodhcode/internal/cli/poll"
	pkgerrors "shodhcode/pkg/errors"
	"shodhcode/pkg/utils/contextkey"
	"shodhcode/pkg/utils/logger"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultDeadline = 30 * time.Second
)

// State is the tracker lifecycle state. Verdicts reported by the backend
// are states too, spelled exactly as the backend spells them.
type State string

const (
	StateIdle     State = "IDLE"
	StateCreating State = "CREATING"
	StatePending  State = State(api.StatusPending)
	StateRunning  State = State(api.StatusRunning)
	StateAccepted State = State(api.StatusAccepted)
	StateTimeout  State = "TRACK_TIMEOUT"
	StateError    State = "TRACK_ERROR"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	switch s {
	case StateIdle, StateCreating, StatePending, StateRunning:
		return false
	}
	return true
}

// Verdict reports whether the state is a backend verdict rather than a
// tracking outcome.
func (s State) Verdict() bool {
	return s.Terminal() && s != StateTimeout && s != StateError
}

// Update is one state change.
type Update struct {
	State      State
	Submission api.Submission
	Err        error
}

// Observer receives updates on the goroutine that caused the transition.
// It must not call back into the Tracker.
type Observer func(Update)

// Client is the part of the backend the tracker talks to.
type Client interface {
	CreateSubmission(ctx context.Context, req api.SubmissionRequest) (api.ID, error)
	GetSubmission(ctx context.Context, id api.ID) (api.Submission, error)
}

type Option func(*Tracker)

func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithDeadline(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.deadline = d
		}
	}
}

// Tracker owns at most one submission being watched.
type Tracker struct {
	client   Client
	observer Observer
	clock    clock.Clock
	interval time.Duration
	deadline time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	gen          uint64
	handle       *poll.Handle
	cancelCreate context.CancelFunc
	state        State
	current      api.Submission
	err          error
	closed       bool
}

func New(client Client, observer Observer, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		client:   client,
		observer: observer,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		deadline: DefaultDeadline,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit validates req, creates the submission and starts watching it.
// Any submission still being watched is abandoned first. Validation and
// create failures are returned; a create failure is also reported to the
// observer as TRACK_ERROR. If Cancel, Close or another Submit intervenes
// while the create call is in flight, Submit returns SubmissionSuperseded
// along with whatever id the backend assigned.
func (t *Tracker) Submit(ctx context.Context, req api.SubmissionRequest) (api.ID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", pkgerrors.New(pkgerrors.TrackerClosed)
	}
	prevHandle, prevCreate := t.detachLocked()
	gen := t.gen
	createCtx, cancelCreate := context.WithCancel(ctx)
	t.cancelCreate = cancelCreate
	t.current = api.Submission{
		ContestID: req.ContestID,
		ProblemID: req.ProblemID,
		UserName:  req.UserName,
		Language:  req.Language,
		Code:      req.Code,
	}
	t.err = nil
	t.transitionLocked(StateCreating)
	t.mu.Unlock()

	prevHandle.Cancel()
	if prevCreate != nil {
		prevCreate()
	}

	logCtx := context.WithValue(t.ctx, contextkey.ContestID, req.ContestID)
	logCtx = context.WithValue(logCtx, contextkey.UserName, req.UserName)
	id, err := t.client.CreateSubmission(createCtx, req)
	cancelCreate()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		if err != nil {
			return "", pkgerrors.Wrapf(err, pkgerrors.SubmissionSuperseded,
				"submission abandoned while being created: %v", err)
		}
		return id, pkgerrors.Newf(pkgerrors.SubmissionSuperseded,
			"submission %s abandoned before tracking started", id).
			WithDetail("submission_id", id.String())
	}
	t.cancelCreate = nil
	if err != nil {
		t.err = err
		t.transitionLocked(StateError)
		logger.Warn(logCtx, "create submission failed", zap.Error(err))
		return "", err
	}

	t.current.ID = id
	t.current.Status = api.StatusPending
	t.transitionLocked(StatePending)

	loopCtx := context.WithValue(logCtx, contextkey.SubmissionID, id.String())
	t.handle = poll.Start(loopCtx, t.clock, t.statusProbe(id), poll.Options[api.Submission]{
		Interval:   t.interval,
		Deadline:   t.deadline,
		OnProgress: func(sub api.Submission) { t.onProgress(gen, sub) },
		OnOutcome:  func(o poll.Outcome[api.Submission]) { t.onOutcome(loopCtx, gen, o) },
	})
	return id, nil
}

// Cancel stops watching the current submission. The last observed state
// is kept and no further updates are delivered for it. A submission still
// being created was never observed, so the tracker silently returns to
// IDLE.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	handle, cancelCreate := t.detachLocked()
	if t.state == StateCreating {
		t.state = StateIdle
		t.current = api.Submission{}
		t.err = nil
	}
	t.mu.Unlock()

	handle.Cancel()
	if cancelCreate != nil {
		cancelCreate()
	}
}

// Close cancels tracking for good. Later Submit calls fail with
// TrackerClosed.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Cancel()
	t.cancel()
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns a copy of the tracked submission and the error that
// ended tracking, if any.
func (t *Tracker) Current() (api.Submission, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.err
}

// Watching reports whether a create call or a poll loop is outstanding.
func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil || t.cancelCreate != nil
}

// detachLocked invalidates callbacks from the current submission and
// hands back what the caller must cancel once t.mu is released.
func (t *Tracker) detachLocked() (*poll.Handle, context.CancelFunc) {
	t.gen++
	handle, cancelCreate := t.handle, t.cancelCreate
	t.handle, t.cancelCreate = nil, nil
	return handle, cancelCreate
}

func (t *Tracker) statusProbe(id api.ID) poll.Probe[api.Submission] {
	return func(ctx context.Context) poll.Result[api.Submission] {
		sub, err := t.client.GetSubmission(ctx, id)
		if err != nil {
			return poll.Fail[api.Submission](err)
		}
		switch {
		case sub.Status == "":
			return poll.Fail[api.Submission](pkgerrors.Newf(pkgerrors.SubmissionPollFailed,
				"submission %s has no status", id))
		case sub.Status.InProgress():
			return poll.Next(sub)
		default:
			return poll.Finish(sub)
		}
	}
}

func (t *Tracker) onProgress(gen uint64, sub api.Submission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return
	}
	t.absorbLocked(sub)
	if next := State(sub.Status); next != t.state {
		t.transitionLocked(next)
	}
}

func (t *Tracker) onOutcome(ctx context.Context, gen uint64, outcome poll.Outcome[api.Submission]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return
	}
	t.handle = nil

	switch outcome.Kind {
	case poll.OutcomeDone:
		t.absorbLocked(outcome.Value)
		logger.Info(ctx, "submission judged",
			zap.String("status", string(outcome.Value.Status)),
			zap.String("result", outcome.Value.Result),
		)
		t.transitionLocked(State(outcome.Value.Status))
	case poll.OutcomeFailed:
		t.err = pkgerrors.Wrapf(outcome.Err, pkgerrors.SubmissionPollFailed,
			"check submission %s failed: %v", t.current.ID, outcome.Err)
		logger.Warn(ctx, "submission poll failed", zap.Error(outcome.Err))
		t.transitionLocked(StateError)
	case poll.OutcomeTimeout:
		t.err = pkgerrors.New(pkgerrors.SubmissionTrackTimeout).
			WithDetail("submission_id", t.current.ID.String()).
			WithDetail("deadline", t.deadline.String()).
			WithDetail("last_status", string(t.current.Status))
		logger.Info(ctx, "stopped watching submission", zap.Duration("deadline", t.deadline))
		t.transitionLocked(StateTimeout)
	}
}

// absorbLocked copies the fields polling is allowed to change.
func (t *Tracker) absorbLocked(sub api.Submission) {
	t.current.Status = sub.Status
	t.current.Result = sub.Result
	if sub.RunTime != nil {
		t.current.RunTime = sub.RunTime
	}
	if sub.MemoryUsed != nil {
		t.current.MemoryUsed = sub.MemoryUsed
	}
}

func (t *Tracker) transitionLocked(state State) {
	t.state = state
	if t.observer != nil {
		t.observer(Update{State: state, Submission: t.current, Err: t.err})
	}
}
