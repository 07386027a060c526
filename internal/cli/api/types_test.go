package api_test

import (
	"testing"
	"time"

	"shodhcode/internal/cli/api"
	"shodhcode/internal/testutil"
	pkgerrors "shodhcode/pkg/errors"
)

func TestIDAcceptsStringAndNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want api.ID
	}{
		{`{"submissionId":"s1"}`, "s1"},
		{`{"submissionId":42}`, "42"},
		{`{"submissionId":null}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var out struct {
				SubmissionID api.ID `json:"submissionId"`
			}
			testutil.MustUnmarshalJSON(t, []byte(tt.raw), &out)
			testutil.AssertEqual(t, out.SubmissionID, tt.want)
		})
	}
}

func TestIDMarshalsNumericAsNumber(t *testing.T) {
	tests := []struct {
		id   api.ID
		want string
	}{
		{"7", `7`},
		{"-3", `-3`},
		{"A", `"A"`},
		{"007", `"007"`},
		{"+1", `"+1"`},
		{"-0", `"-0"`},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, string(testutil.MustMarshalJSON(t, tt.id)), tt.want)
	}
}

func TestSubmissionRequestKeepsLeadingZeroProblemID(t *testing.T) {
	req := api.SubmissionRequest{ContestID: 1, ProblemID: "007", UserName: "alice", Language: api.LanguageJava, Code: "x"}
	var decoded api.SubmissionRequest
	testutil.MustUnmarshalJSON(t, testutil.MustMarshalJSON(t, req), &decoded)
	testutil.AssertEqual(t, decoded.ProblemID, api.ID("007"))
}

func TestLeaderboardEntryFieldSets(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want api.LeaderboardEntry
	}{
		{
			name: "problemsSolved and totalTime seconds",
			raw:  `{"userName":"alice","problemsSolved":3,"totalTime":95}`,
			want: api.LeaderboardEntry{UserName: "alice", Solved: 3, TotalTime: 95 * time.Second},
		},
		{
			name: "acceptedCount and bestTimeMillis",
			raw:  `{"userName":"bob","acceptedCount":2,"bestTimeMillis":1500}`,
			want: api.LeaderboardEntry{UserName: "bob", Solved: 2, TotalTime: 1500 * time.Millisecond},
		},
		{
			name: "zero problemsSolved falls back to acceptedCount",
			raw:  `{"userName":"carol","problemsSolved":0,"acceptedCount":1}`,
			want: api.LeaderboardEntry{UserName: "carol", Solved: 1},
		},
		{
			name: "extra fields ignored",
			raw:  `{"userName":"dave","rank":1}`,
			want: api.LeaderboardEntry{UserName: "dave"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got api.LeaderboardEntry
			testutil.MustUnmarshalJSON(t, []byte(tt.raw), &got)
			testutil.AssertEqual(t, got, tt.want)
		})
	}
}

func TestParseLanguage(t *testing.T) {
	for input, want := range map[string]api.Language{
		"java":    api.LanguageJava,
		" Python": api.LanguagePython,
		"C++":     api.LanguageCpp,
	} {
		got, err := api.ParseLanguage(input)
		if err != nil {
			t.Fatalf("ParseLanguage(%q) failed: %v", input, err)
		}
		testutil.AssertEqual(t, got, want)
	}

	_, err := api.ParseLanguage("cobol")
	if !pkgerrors.Is(err, pkgerrors.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestSubmissionRequestValidate(t *testing.T) {
	valid := api.SubmissionRequest{ContestID: 1, ProblemID: "A", UserName: "alice", Language: api.LanguageJava, Code: "class Main {}"}
	tests := []struct {
		name  string
		edit  func(*api.SubmissionRequest)
		code  pkgerrors.ErrorCode
		field string
	}{
		{"valid", func(*api.SubmissionRequest) {}, pkgerrors.Success, ""},
		{"missing contest", func(r *api.SubmissionRequest) { r.ContestID = 0 }, pkgerrors.ValidationFailed, "contestId"},
		{"missing problem", func(r *api.SubmissionRequest) { r.ProblemID = " " }, pkgerrors.RequiredFieldEmpty, "problemId"},
		{"blank user", func(r *api.SubmissionRequest) { r.UserName = "\t" }, pkgerrors.RequiredFieldEmpty, "userName"},
		{"empty code", func(r *api.SubmissionRequest) { r.Code = "" }, pkgerrors.RequiredFieldEmpty, "code"},
		{"bad language", func(r *api.SubmissionRequest) { r.Language = "go" }, pkgerrors.LanguageNotSupported, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.edit(&req)
			err := req.Validate()
			testutil.AssertEqual(t, pkgerrors.GetCode(err), tt.code)
			if tt.field != "" {
				field, _ := pkgerrors.Detail(err, "field")
				testutil.AssertEqual(t, field, tt.field)
			}
		})
	}
}

func TestSubmissionStatusInProgress(t *testing.T) {
	testutil.AssertTrue(t, api.StatusPending.InProgress(), "PENDING is in progress")
	testutil.AssertTrue(t, api.StatusRunning.InProgress(), "RUNNING is in progress")
	testutil.AssertFalse(t, api.StatusAccepted.InProgress(), "ACCEPTED is a verdict")
	testutil.AssertFalse(t, api.SubmissionStatus("MEMORY_LIMIT_EXCEEDED").InProgress(), "unknown statuses are verdicts")
}

func TestContestPhase(t *testing.T) {
	contest := api.Contest{StartTime: "2026-01-01T10:00:00", EndTime: "2026-01-01T12:00:00"}
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), "upcoming"},
		{time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), "running"},
		{time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), "ended"},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, contest.Phase(tt.now, time.UTC), tt.want)
	}
	testutil.AssertEqual(t, api.Contest{}.Phase(time.Now(), time.UTC), api.PhaseUnknown)
}

func TestContestCheckOpen(t *testing.T) {
	contest := api.Contest{ID: 4, StartTime: "2026-01-01T10:00:00", EndTime: "2026-01-01T12:00:00"}
	tests := []struct {
		name string
		now  time.Time
		code pkgerrors.ErrorCode
	}{
		{"before start", time.Date(2026, 1, 1, 9, 59, 0, 0, time.UTC), pkgerrors.ContestNotStarted},
		{"running", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), pkgerrors.Success},
		{"at end", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), pkgerrors.ContestEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, pkgerrors.GetCode(contest.CheckOpen(tt.now, time.UTC)), tt.code)
		})
	}
	testutil.AssertNil(t, api.Contest{ID: 5}.CheckOpen(time.Now(), time.UTC))
}

func TestContestProblemLookup(t *testing.T) {
	contest := api.Contest{Problems: []api.Problem{{ID: "1", Title: "Two Sum"}, {ID: "2", Title: "LRU"}}}
	p, ok := contest.Problem("2")
	testutil.AssertTrue(t, ok, "problem 2 should exist")
	testutil.AssertEqual(t, p.Title, "LRU")
	_, ok = contest.Problem("3")
	testutil.AssertFalse(t, ok, "problem 3 should not exist")
}
