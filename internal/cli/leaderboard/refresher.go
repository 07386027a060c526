// Package leaderboard keeps contest rankings fresh by refetching them on
// a fixed interval for as long as a contest is displayed.
package leaderboard

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

const DefaultInterval = 20 * time.Second

// Snapshot is one complete leaderboard fetch. Entries keep backend order
// and are never modified after the snapshot is published.
type Snapshot struct {
	ContestID int64
	Entries   []api.LeaderboardEntry
	FetchedAt time.Time
}

// Client is the part of the backend the refresher talks to.
type Client interface {
	GetLeaderboard(ctx context.Context, contestID int64) ([]api.LeaderboardEntry, error)
}

// Listener receives every new snapshot. It runs while the refresher lock
// is held and must not call back into the Refresher.
type Listener func(*Snapshot)

type Option func(*Refresher)

func WithClock(clk clock.Clock) Option {
	return func(r *Refresher) { r.clock = clk }
}

func WithInterval(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

type fetch struct {
	snapshot *Snapshot
	err      error
}

type contestLoop struct {
	gen    uint64
	handle *poll.Handle
}

// Refresher runs at most one refresh loop per contest.
type Refresher struct {
	client   Client
	listener Listener
	clock    clock.Clock
	interval time.Duration

	mu        sync.Mutex
	gen       uint64
	loops     map[int64]*contestLoop
	snapshots map[int64]*Snapshot
	lastErr   map[int64]error
	closed    bool
}

func New(client Client, listener Listener, opts ...Option) *Refresher {
	r := &Refresher{
		client:    client,
		listener:  listener,
		clock:     clock.RealClock{},
		interval:  DefaultInterval,
		loops:     make(map[int64]*contestLoop),
		snapshots: make(map[int64]*Snapshot),
		lastErr:   make(map[int64]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start fetches the contest leaderboard now and then every interval until
// Stop or Close. A loop already running for the contest is replaced.
func (r *Refresher) Start(ctx context.Context, contestID int64) error {
	if contestID <= 0 {
		return pkgerrors.ValidationError("contestId", "must be a positive integer")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return pkgerrors.Newf(pkgerrors.ServiceUnavailable, "leaderboard refresher is closed")
	}
	prev := r.loops[contestID]
	r.gen++
	loop := &contestLoop{gen: r.gen}
	r.loops[contestID] = loop

	loopCtx := context.WithValue(ctx, contextkey.ContestID, contestID)
	loop.handle = poll.Start(loopCtx, r.clock, r.probe(contestID), poll.Options[fetch]{
		Interval:   r.interval,
		Immediate:  true,
		OnProgress: func(f fetch) { r.apply(loopCtx, contestID, loop.gen, f) },
	})
	r.mu.Unlock()

	if prev != nil {
		prev.handle.Cancel()
	}
	return nil
}

// Stop cancels the contest's loop and forgets its snapshot. No snapshot
// for the contest is emitted after Stop returns.
func (r *Refresher) Stop(contestID int64) {
	r.mu.Lock()
	loop := r.loops[contestID]
	delete(r.loops, contestID)
	delete(r.snapshots, contestID)
	delete(r.lastErr, contestID)
	r.mu.Unlock()

	if loop != nil {
		loop.handle.Cancel()
	}
}

// Close stops every loop. Later Start calls fail.
func (r *Refresher) Close() {
	r.mu.Lock()
	r.closed = true
	loops := r.loops
	r.loops = make(map[int64]*contestLoop)
	r.mu.Unlock()

	for _, loop := range loops {
		loop.handle.Cancel()
	}
}

// Snapshot returns the latest snapshot of a contest, if any.
func (r *Refresher) Snapshot(contestID int64) (*Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[contestID]
	return snap, ok
}

// LastError returns the error of the most recent fetch, nil after a
// successful one.
func (r *Refresher) LastError(contestID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr[contestID]
}

// Running reports whether a loop is active for the contest.
func (r *Refresher) Running(contestID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[contestID]
	return ok
}

func (r *Refresher) probe(contestID int64) poll.Probe[fetch] {
	return func(ctx context.Context) poll.Result[fetch] {
		entries, err := r.client.GetLeaderboard(ctx, contestID)
		if err != nil {
			return poll.Next(fetch{err: err})
		}
		return poll.Next(fetch{snapshot: &Snapshot{
			ContestID: contestID,
			Entries:   entries,
			FetchedAt: r.clock.Now(),
		}})
	}
}

func (r *Refresher) apply(ctx context.Context, contestID int64, gen uint64, f fetch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if loop, ok := r.loops[contestID]; !ok || loop.gen != gen {
		return
	}
	if f.err != nil {
		if !pkgerrors.Is(f.err, pkgerrors.LeaderboardFetchFailed) {
			f.err = pkgerrors.Wrapf(f.err, pkgerrors.LeaderboardFetchFailed, "refresh leaderboard failed: %v", f.err)
		}
		r.lastErr[contestID] = f.err
		logger.Warn(ctx, "leaderboard refresh failed", zap.Error(f.err))
		return
	}
	r.snapshots[contestID] = f.snapshot
	delete(r.lastErr, contestID)
	if r.listener != nil {
		r.listener(f.snapshot)
	}
}
