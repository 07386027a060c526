package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"shodhcode/internal/cli/poll"
	"shodhcode/internal/testutil"
)

const interval = 2 * time.Second

type recorder[T any] struct {
	progress chan T
	outcomes chan poll.Outcome[T]
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{
		progress: make(chan T, 64),
		outcomes: make(chan poll.Outcome[T], 4),
	}
}

func (r *recorder[T]) options(opts poll.Options[T]) poll.Options[T] {
	opts.OnProgress = func(v T) { r.progress <- v }
	opts.OnOutcome = func(o poll.Outcome[T]) { r.outcomes <- o }
	return opts
}

func TestStartPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero interval")
		}
	}()
	poll.Start(context.Background(), testutil.NewFakeClock(), func(context.Context) poll.Result[int] {
		return poll.Next(0)
	}, poll.Options[int]{})
}

func TestDoneDeliveredOnceAndNoFurtherTicks(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	var calls atomic.Int32
	script := []poll.Result[int]{poll.Next(1), poll.Next(2), poll.Finish(42)}

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		n := calls.Add(1)
		return script[n-1]
	}, rec.options(poll.Options[int]{Interval: interval}))
	defer h.Cancel()

	for tick := 1; tick <= 2; tick++ {
		clk.Step(interval)
		if got := testutil.Receive(t, rec.progress, "progress"); got != tick {
			t.Fatalf("progress %d = %d", tick, got)
		}
		clk.WaitForTimers(t, tick+1)
	}
	clk.Step(interval)
	outcome := testutil.Receive(t, rec.outcomes, "outcome")
	if outcome.Kind != poll.OutcomeDone || outcome.Value != 42 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	testutil.WaitClosed(t, h.Done(), "loop exit")

	for i := 0; i < 10; i++ {
		clk.Step(interval)
	}
	testutil.AssertNoReceive(t, rec.outcomes, "second outcome")
	testutil.AssertEqual(t, calls.Load(), int32(3))
	testutil.AssertEqual(t, clk.TimersCreated(), 3)
	testutil.AssertTrue(t, h.Stopped(), "handle should be stopped")
	testutil.AssertFalse(t, h.Cancelled(), "handle finished on its own")
}

func TestCancelBeforeScheduledTickSkipsProbe(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	var calls atomic.Int32

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		calls.Add(1)
		return poll.Next(0)
	}, rec.options(poll.Options[int]{Interval: interval, Deadline: 30 * time.Second}))

	h.Cancel()
	clk.Step(5 * interval)
	testutil.WaitClosed(t, h.Done(), "loop exit")

	testutil.AssertEqual(t, calls.Load(), int32(0))
	testutil.AssertNoReceive(t, rec.outcomes, "outcome after cancel")
	testutil.AssertTrue(t, h.Cancelled(), "handle should report cancellation")
}

func TestCancelIsIdempotent(t *testing.T) {
	var nilHandle *poll.Handle
	nilHandle.Cancel()

	h := poll.Start(context.Background(), testutil.NewFakeClock(), func(context.Context) poll.Result[int] {
		return poll.Finish(1)
	}, poll.Options[int]{Interval: interval})
	h.Cancel()
	h.Cancel()
	testutil.WaitClosed(t, h.Done(), "loop exit")
}

func TestCancelDiscardsInFlightProbe(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[string]()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	probeErr := make(chan error, 1)

	h := poll.Start(context.Background(), clk, func(ctx context.Context) poll.Result[string] {
		entered <- struct{}{}
		<-release
		probeErr <- ctx.Err()
		return poll.Finish("ACCEPTED")
	}, rec.options(poll.Options[string]{Interval: interval}))

	clk.Step(interval)
	testutil.Receive(t, entered, "probe start")
	h.Cancel()
	close(release)

	if err := testutil.Receive(t, probeErr, "probe context"); !errors.Is(err, context.Canceled) {
		t.Fatalf("probe context should be cancelled, got %v", err)
	}
	testutil.WaitClosed(t, h.Done(), "loop exit")
	testutil.AssertNoReceive(t, rec.outcomes, "outcome after cancel")
}

func TestFailedDeliveredOnce(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	boom := errors.New("connection reset")
	var calls atomic.Int32

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		calls.Add(1)
		return poll.Fail[int](boom)
	}, rec.options(poll.Options[int]{Interval: interval, Deadline: 30 * time.Second}))

	clk.Step(interval)
	outcome := testutil.Receive(t, rec.outcomes, "outcome")
	if outcome.Kind != poll.OutcomeFailed || !errors.Is(outcome.Err, boom) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	testutil.WaitClosed(t, h.Done(), "loop exit")
	clk.Step(10 * interval)
	testutil.AssertNoReceive(t, rec.outcomes, "second outcome")
	testutil.AssertEqual(t, calls.Load(), int32(1))
}

func TestDeadlineDeliversTimeout(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	var calls atomic.Int32

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		calls.Add(1)
		return poll.Next(0)
	}, rec.options(poll.Options[int]{Interval: interval, Deadline: 5 * time.Second}))

	// deadline timer + first tick
	clk.WaitForTimers(t, 2)
	for i := 1; i <= 2; i++ {
		clk.Step(interval)
		testutil.Receive(t, rec.progress, "progress")
		clk.WaitForTimers(t, 2+i)
	}
	clk.Step(interval)

	outcome := testutil.Receive(t, rec.outcomes, "outcome")
	testutil.AssertEqual(t, outcome.Kind, poll.OutcomeTimeout)
	testutil.AssertNil(t, outcome.Err)
	testutil.WaitClosed(t, h.Done(), "loop exit")
	testutil.AssertEqual(t, calls.Load(), int32(2))
}

func TestDeadlineFiresWhileProbeInFlight(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	entered := make(chan struct{}, 1)

	h := poll.Start(context.Background(), clk, func(ctx context.Context) poll.Result[int] {
		entered <- struct{}{}
		<-ctx.Done()
		return poll.Finish(1)
	}, rec.options(poll.Options[int]{Interval: time.Second, Deadline: 3 * time.Second}))

	clk.Step(time.Second)
	testutil.Receive(t, entered, "probe start")
	clk.Step(2 * time.Second)

	outcome := testutil.Receive(t, rec.outcomes, "outcome")
	testutil.AssertEqual(t, outcome.Kind, poll.OutcomeTimeout)
	testutil.WaitClosed(t, h.Done(), "loop exit")
	testutil.AssertNoReceive(t, rec.outcomes, "second outcome")
}

func TestImmediateRunsFirstProbeWithoutWaiting(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	var calls atomic.Int32

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		return poll.Next(int(calls.Add(1)))
	}, rec.options(poll.Options[int]{Interval: 20 * time.Second, Immediate: true}))
	defer h.Cancel()

	testutil.AssertEqual(t, testutil.Receive(t, rec.progress, "first progress"), 1)
	clk.WaitForTimers(t, 1)
	clk.Step(20 * time.Second)
	testutil.AssertEqual(t, testutil.Receive(t, rec.progress, "second progress"), 2)
}

func TestParentContextCancelStopsSilently(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()
	ctx, cancel := context.WithCancel(context.Background())

	h := poll.Start(ctx, clk, func(context.Context) poll.Result[int] {
		return poll.Finish(1)
	}, rec.options(poll.Options[int]{Interval: interval}))

	cancel()
	testutil.WaitClosed(t, h.Done(), "loop exit")
	clk.Step(interval)
	testutil.AssertTrue(t, h.Cancelled(), "parent cancellation should cancel the handle")
	testutil.AssertNoReceive(t, rec.outcomes, "outcome after parent cancel")
}

func TestProbePanicReportedAsFailure(t *testing.T) {
	clk := testutil.NewFakeClock()
	rec := newRecorder[int]()

	h := poll.Start(context.Background(), clk, func(context.Context) poll.Result[int] {
		panic("nil submission")
	}, rec.options(poll.Options[int]{Interval: interval}))

	clk.Step(interval)
	outcome := testutil.Receive(t, rec.outcomes, "outcome")
	testutil.AssertEqual(t, outcome.Kind, poll.OutcomeFailed)
	testutil.AssertTrue(t, outcome.Err != nil, "panic should surface as an error")
	testutil.WaitClosed(t, h.Done(), "loop exit")
}
