// Package api is the typed REST contract of the judge backend: submission
// creation, submission status, contest details and the contest leaderboard.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "shodhcode/pkg/errors"
)

// ID is an identifier assigned by the backend. The wire form may be a
// JSON string or a JSON integer; both decode to the same ID.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// MarshalJSON writes IDs in canonical integer form as JSON numbers and
// anything else, "007" included, as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid id %s: %w", data, err)
		}
		*id = ID(n.String())
		return nil
	}
}

// Language is a submission language tag.
type Language string

const (
	LanguageJava   Language = "java"
	LanguagePython Language = "python"
	LanguageCpp    Language = "cpp"
)

var languageAliases = map[string]Language{
	"java":    LanguageJava,
	"python":  LanguagePython,
	"python3": LanguagePython,
	"py":      LanguagePython,
	"cpp":     LanguageCpp,
	"c++":     LanguageCpp,
}

// Languages lists the accepted language tags in display order.
func Languages() []Language {
	return []Language{LanguageJava, LanguagePython, LanguageCpp}
}

func (l Language) Valid() bool {
	switch l {
	case LanguageJava, LanguagePython, LanguageCpp:
		return true
	}
	return false
}

// ParseLanguage accepts a tag or a common alias, case-insensitively.
func ParseLanguage(value string) (Language, error) {
	if lang, ok := languageAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return lang, nil
	}
	return "", pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", value).
		WithDetail("language", value)
}

// SubmissionStatus is the backend status of a submission. Values outside
// the known set are verdicts and are kept verbatim.
type SubmissionStatus string

const (
	StatusPending           SubmissionStatus = "PENDING"
	StatusRunning           SubmissionStatus = "RUNNING"
	StatusAccepted          SubmissionStatus = "ACCEPTED"
	StatusWrongAnswer       SubmissionStatus = "WRONG_ANSWER"
	StatusRuntimeError      SubmissionStatus = "RUNTIME_ERROR"
	StatusCompilationError  SubmissionStatus = "COMPILATION_ERROR"
	StatusCompileError      SubmissionStatus = "COMPILE_ERROR"
	StatusTimedOut          SubmissionStatus = "TIMED_OUT"
	StatusTimeLimitExceeded SubmissionStatus = "TIME_LIMIT_EXCEEDED"
)

// InProgress reports whether the backend is still judging.
func (s SubmissionStatus) InProgress() bool {
	return s == StatusPending || s == StatusRunning
}

// SubmissionRequest is the create-submission payload.
type SubmissionRequest struct {
	ContestID int64    `json:"contestId"`
	ProblemID ID       `json:"problemId"`
	UserName  string   `json:"userName"`
	Language  Language `json:"language"`
	Code      string   `json:"code"`
}

// Validate checks the payload locally. It never touches the network.
func (r SubmissionRequest) Validate() error {
	if r.ContestID <= 0 {
		return pkgerrors.ValidationError("contestId", "must be a positive integer")
	}
	if r.ProblemID.IsZero() {
		return pkgerrors.RequiredField("problemId")
	}
	if strings.TrimSpace(r.UserName) == "" {
		return pkgerrors.RequiredField("userName")
	}
	if strings.TrimSpace(r.Code) == "" {
		return pkgerrors.RequiredField("code")
	}
	if !r.Language.Valid() {
		return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", r.Language).
			WithDetail("language", string(r.Language))
	}
	return nil
}

type createSubmissionResponse struct {
	SubmissionID ID `json:"submissionId"`
}

// Submission is the status record returned while polling. Fields the
// backend omits stay zero.
type Submission struct {
	ID         ID               `json:"id"`
	ContestID  int64            `json:"contestId,omitempty"`
	ProblemID  ID               `json:"problemId,omitempty"`
	UserName   string           `json:"userName,omitempty"`
	Language   Language         `json:"language,omitempty"`
	Code       string           `json:"code,omitempty"`
	Status     SubmissionStatus `json:"status"`
	Result     string           `json:"result,omitempty"`
	RunTime    *int64           `json:"runTime,omitempty"`
	MemoryUsed *int64           `json:"memoryUsed,omitempty"`
}

// LeaderboardEntry is one ranked row. The backend has shipped two field
// sets over time; both decode here.
type LeaderboardEntry struct {
	UserName  string
	Solved    int64
	TotalTime time.Duration
}

type leaderboardEntryWire struct {
	UserName       string   `json:"userName"`
	ProblemsSolved *int64   `json:"problemsSolved"`
	AcceptedCount  *int64   `json:"acceptedCount"`
	TotalTime      *float64 `json:"totalTime"`
	BestTimeMillis *int64   `json:"bestTimeMillis"`
}

func (e *LeaderboardEntry) UnmarshalJSON(data []byte) error {
	var wire leaderboardEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = LeaderboardEntry{UserName: wire.UserName}
	if wire.ProblemsSolved != nil {
		e.Solved = *wire.ProblemsSolved
	}
	if e.Solved == 0 && wire.AcceptedCount != nil {
		e.Solved = *wire.AcceptedCount
	}
	switch {
	case wire.TotalTime != nil && *wire.TotalTime > 0:
		e.TotalTime = time.Duration(*wire.TotalTime * float64(time.Second))
	case wire.BestTimeMillis != nil:
		e.TotalTime = time.Duration(*wire.BestTimeMillis) * time.Millisecond
	}
	return nil
}

func (e LeaderboardEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(leaderboardEntryWire{
		UserName:       e.UserName,
		ProblemsSolved: &e.Solved,
		TotalTime:      ptr(e.TotalTime.Seconds()),
	})
}

func ptr[T any](v T) *T {
	return &v
}

// Problem is a contest problem.
type Problem struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	Statement string `json:"statement"`
}

// backendTimeLayout is the zone-less timestamp format the backend emits.
const backendTimeLayout = "2006-01-02T15:04:05"

// Contest is the contest detail record.
type Contest struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	Problems    []Problem `json:"problems"`
}

// Problem looks a problem up by id.
func (c Contest) Problem(id ID) (Problem, bool) {
	for _, p := range c.Problems {
		if p.ID == id {
			return p, true
		}
	}
	return Problem{}, false
}

const (
	PhaseUpcoming = "upcoming"
	PhaseRunning  = "running"
	PhaseEnded    = "ended"
	PhaseUnknown  = "unknown"
)

// Phase describes the contest window relative to now in loc. Timestamps
// that do not parse yield PhaseUnknown.
func (c Contest) Phase(now time.Time, loc *time.Location) string {
	start, errStart := time.ParseInLocation(backendTimeLayout, c.StartTime, loc)
	end, errEnd := time.ParseInLocation(backendTimeLayout, c.EndTime, loc)
	if errStart != nil || errEnd != nil {
		return PhaseUnknown
	}
	switch {
	case now.Before(start):
		return PhaseUpcoming
	case now.Before(end):
		return PhaseRunning
	default:
		return PhaseEnded
	}
}

// CheckOpen fails with ContestNotStarted or ContestEnded outside the
// contest window. An unknown window is left to the backend to judge.
func (c Contest) CheckOpen(now time.Time, loc *time.Location) error {
	switch c.Phase(now, loc) {
	case PhaseUpcoming:
		return pkgerrors.Newf(pkgerrors.ContestNotStarted, "contest %d starts at %s", c.ID, c.StartTime).
			WithDetail("startTime", c.StartTime)
	case PhaseEnded:
		return pkgerrors.Newf(pkgerrors.ContestEnded, "contest %d ended at %s", c.ID, c.EndTime).
			WithDetail("endTime", c.EndTime)
	}
	return nil
}
