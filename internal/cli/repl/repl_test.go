package repl_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"shodhcode/internal/cli/api"
	"shodhcode/internal/cli/api/apitest"
	"shodhcode/internal/cli/config"
	httpclient "shodhcode/internal/cli/http"
	"shodhcode/internal/cli/repl"
	"shodhcode/internal/cli/state"
	"shodhcode/internal/testutil"
	pkgerrors "shodhcode/pkg/errors"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	srv       *apitest.Server
	clock     *testutil.FakeClock
	out       *safeBuffer
	statePath string
	cfg       config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		srv:       apitest.New(t),
		clock:     testutil.NewFakeClock(),
		out:       &safeBuffer{},
		statePath: filepath.Join(t.TempDir(), "state.json"),
	}
	h.cfg = config.Default()
	h.cfg.StatePath = h.statePath
	color := false
	h.cfg.Color = &color

	h.srv.AddContest(api.Contest{
		ID:    1,
		Title: "Spring Cup",
		Problems: []api.Problem{
			{ID: "A", Title: "Two Sum", Statement: "Find two numbers."},
		},
	})
	h.srv.SetLeaderboard(1, []api.LeaderboardEntry{
		{UserName: "bob", Solved: 2},
		{UserName: "alice", Solved: 1},
	})
	return h
}

func (h *harness) session(t *testing.T, input string, p state.Participation) *repl.Session {
	t.Helper()
	client := httpclient.New(h.srv.URL, time.Second)
	s := repl.New(h.cfg, client, p, repl.NewScanner(strings.NewReader(input)), h.out, repl.WithClock(h.clock))
	t.Cleanup(s.Close)
	return s
}

func (h *harness) waitOutput(t *testing.T, want string) {
	t.Helper()
	testutil.Eventually(t, func() bool { return strings.Contains(h.out.String(), want) }, "output "+want)
}

func (h *harness) assertOutput(t *testing.T, want string) {
	t.Helper()
	if got := h.out.String(); !strings.Contains(got, want) {
		t.Fatalf("output missing %q:\n%s", want, got)
	}
}

func TestJoinSubmitAccepted(t *testing.T) {
	h := newHarness(t)
	h.srv.ScriptStatuses(apitest.Step{Status: api.StatusAccepted, Result: "All test cases passed"})
	s := h.session(t, "", state.Participation{})
	ctx := context.Background()

	testutil.AssertFalse(t, s.Execute(ctx, "join 1 alice"), "join must not end the session")
	h.assertOutput(t, "Joined contest 1 as alice")
	h.assertOutput(t, "Spring Cup")
	h.waitOutput(t, "leaderboard: you are #2 with 1 solved")

	saved, err := state.Load(h.statePath)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, saved.ContestID, int64(1))
	testutil.AssertEqual(t, saved.UserName, "alice")

	s.Execute(ctx, "problem A")
	h.assertOutput(t, "A. Two Sum")

	s.Execute(ctx, `submit code="print(1)" lang=python`)
	h.assertOutput(t, "Submitting...")
	h.assertOutput(t, "is PENDING")

	// leaderboard tick, submission deadline and first submission tick
	h.clock.WaitForTimers(t, 3)
	h.clock.Step(2 * time.Second)
	h.waitOutput(t, "Accepted! All test cases passed.")

	reqs := h.srv.Requests()
	testutil.AssertEqual(t, len(reqs), 1)
	testutil.AssertEqual(t, reqs[0].ProblemID, api.ID("A"))
	testutil.AssertEqual(t, reqs[0].Language, api.LanguagePython)
	testutil.AssertEqual(t, reqs[0].UserName, "alice")

	s.Execute(ctx, "status")
	h.assertOutput(t, "state:    ACCEPTED")
}

func TestCommandsRequireJoin(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "", state.Participation{})

	for _, line := range []string{"submit code=x", "leaderboard", "contest", "leave"} {
		s.Execute(context.Background(), line)
	}
	testutil.AssertEqual(t, strings.Count(h.out.String(), "Join a contest first (code 14003)"), 4)
	testutil.AssertEqual(t, h.srv.TotalCalls(), 0)
}

func TestJoinUnknownContest(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "", state.Participation{})

	s.Execute(context.Background(), "join 9 bob")
	h.assertOutput(t, "contest 9 not found")
	testutil.AssertEqual(t, h.srv.Calls(apitest.EndpointLeaderboard), 0)

	saved, err := state.Load(h.statePath)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, saved.Joined(), "failed join must not be saved")
}

func TestLeaveStopsRefreshing(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "", state.Participation{})
	ctx := context.Background()

	s.Execute(ctx, "join 1 alice")
	h.waitOutput(t, "leaderboard: you are #2")
	s.Execute(ctx, "leaderboard")
	h.assertOutput(t, "USER")
	h.assertOutput(t, "bob")

	s.Execute(ctx, "leave")
	h.assertOutput(t, "left contest 1")
	calls := h.srv.Calls(apitest.EndpointLeaderboard)

	h.clock.Step(time.Minute)
	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, h.srv.Calls(apitest.EndpointLeaderboard), calls)

	saved, err := state.Load(h.statePath)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, saved.Joined(), "leave must clear saved state")
}

func TestProblemOutsideContest(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "", state.Participation{})

	s.Execute(context.Background(), "join 1 alice")
	s.Execute(context.Background(), "problem Z")
	h.assertOutput(t, "problem Z is not part of contest 1")
}

func TestRunScriptedInput(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "help\nset timeout 3s\nshow config\nbogus\nexit\nhelp\n", state.Participation{})

	testutil.AssertNil(t, s.Run(context.Background()))
	h.assertOutput(t, "join contest=<id> user=<name>")
	h.assertOutput(t, "timeout set to 3s")
	h.assertOutput(t, "timeout: 3s")
	h.assertOutput(t, "unknown command: bogus")
	h.assertOutput(t, "bye")
	testutil.AssertEqual(t, strings.Count(h.out.String(), "Commands"), 1)
}

func TestRunPromptsForMissingFields(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "join\n1\nalice\nexit\n", state.Participation{})

	testutil.AssertNil(t, s.Run(context.Background()))
	h.assertOutput(t, "Joined contest 1 as alice")
}

func TestRunEndsAtEOF(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "show state", state.Participation{})

	testutil.AssertNil(t, s.Run(context.Background()))
	h.assertOutput(t, "not joined")
}

func TestRunResumesSavedContest(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "show state\nexit\n", state.Participation{ContestID: 1, UserName: "alice"})

	testutil.AssertNil(t, s.Run(context.Background()))
	h.assertOutput(t, "Rejoined contest 1 as alice")
	h.assertOutput(t, `"user_name": "alice"`)
	testutil.AssertEqual(t, h.srv.Calls(apitest.EndpointContest), 1)
}

func TestSubmitRejectedIsReportedOnce(t *testing.T) {
	h := newHarness(t)
	h.srv.RejectCreates(pkgerrors.Newf(pkgerrors.InvalidParams, "Problem not found"))
	s := h.session(t, "", state.Participation{})
	ctx := context.Background()

	s.Execute(ctx, "join 1 alice")
	s.Execute(ctx, "submit code=x problem=A")

	out := h.out.String()
	testutil.AssertEqual(t, strings.Count(out, "Problem not found"), 1)
	testutil.AssertTrue(t, strings.Contains(out, "Submitting..."), "creating state should be shown")
	testutil.AssertEqual(t, h.srv.Calls(apitest.EndpointSubmission), 0)
}

func TestSubmitOutsideContestWindow(t *testing.T) {
	h := newHarness(t)
	h.srv.AddContest(api.Contest{
		ID:        2,
		Title:     "Winter Cup",
		StartTime: "2025-01-01T10:00:00",
		EndTime:   "2025-01-01T12:00:00",
		Problems:  []api.Problem{{ID: "A", Title: "Two Sum"}},
	})
	h.srv.AddContest(api.Contest{
		ID:        3,
		Title:     "Summer Cup",
		StartTime: "2027-01-01T10:00:00",
		EndTime:   "2027-01-01T12:00:00",
		Problems:  []api.Problem{{ID: "A", Title: "Two Sum"}},
	})
	s := h.session(t, "", state.Participation{})
	ctx := context.Background()

	s.Execute(ctx, "join 2 alice")
	s.Execute(ctx, "submit code=x problem=A")
	h.assertOutput(t, "contest 2 ended at 2025-01-01T12:00:00 (code 14002)")

	s.Execute(ctx, "join 3 alice")
	s.Execute(ctx, "submit code=x problem=A")
	h.assertOutput(t, "contest 3 starts at 2027-01-01T10:00:00 (code 14001)")

	testutil.AssertEqual(t, len(h.srv.Requests()), 0)
	testutil.AssertFalse(t, strings.Contains(h.out.String(), "Submitting..."), "closed contests must not submit")
}

func TestLeaderboardUnavailableWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	h.srv.FailLeaderboard(1, 100)
	s := h.session(t, "", state.Participation{})
	ctx := context.Background()

	s.Execute(ctx, "join 1 alice")
	testutil.Eventually(t, func() bool {
		s.Execute(ctx, "leaderboard")
		return strings.Contains(h.out.String(), "(code 14200)")
	}, "ranking not available error")
	h.assertOutput(t, "leaderboard for contest 1 is not available")
}
