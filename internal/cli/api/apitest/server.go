// Package apitest runs an in-memory judge backend over httptest for
// package tests. Submissions follow a scripted status sequence and every
// endpoint counts its calls.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shodhcode/internal/cli/api"
	httpclient "shodhcode/internal/cli/http"
	pkgerrors "shodhcode/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Endpoint names used with Calls.
const (
	EndpointCreate      = "create"
	EndpointSubmission  = "submission"
	EndpointContest     = "contest"
	EndpointLeaderboard = "leaderboard"
)

// Step is one scripted answer to GET /api/submissions/{id}. A non-zero
// HTTPStatus makes the call fail with that status instead.
type Step struct {
	Status     api.SubmissionStatus
	Result     string
	HTTPStatus int
}

type submission struct {
	request api.SubmissionRequest
	script  []Step
	polls   int
}

type errorResponse struct {
	Code    pkgerrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Server is a fake judge backend.
type Server struct {
	*httptest.Server

	mu               sync.Mutex
	idPrefix         string
	nextID           int
	script           []Step
	createFailure    *pkgerrors.Error
	submissions      map[string]*submission
	idempotency      map[string]string
	requests         []api.SubmissionRequest
	contests         map[int64]api.Contest
	leaderboards     map[int64][]api.LeaderboardEntry
	leaderboardFails map[int64]int
	calls            map[string]int
	requestIDs       []string
	gzip             bool
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{
		script:           []Step{{Status: api.StatusAccepted}},
		submissions:      make(map[string]*submission),
		idempotency:      make(map[string]string),
		contests:         make(map[int64]api.Contest),
		leaderboards:     make(map[int64][]api.LeaderboardEntry),
		leaderboardFails: make(map[int64]int),
		calls:            make(map[string]int),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// Client returns an api client pointed at the server.
func (s *Server) Client() *api.Client {
	return api.NewClient(httpclient.New(s.URL, 5*time.Second))
}

// UseIDPrefix makes new submission ids strings like "s1" instead of
// integers.
func (s *Server) UseIDPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idPrefix = prefix
}

// ScriptStatuses sets the status sequence for submissions created from
// now on. The last step repeats forever.
func (s *Server) ScriptStatuses(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]Step(nil), steps...)
}

// RejectCreates makes every create call fail with err's code and message.
// Pass nil to accept creates again.
func (s *Server) RejectCreates(err *pkgerrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailure = err
}

func (s *Server) AddContest(contest api.Contest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contests[contest.ID] = contest
}

func (s *Server) SetLeaderboard(contestID int64, entries []api.LeaderboardEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboards[contestID] = append([]api.LeaderboardEntry(nil), entries...)
}

// FailLeaderboard makes the next n leaderboard fetches for the contest
// answer 503.
func (s *Server) FailLeaderboard(contestID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboardFails[contestID] += n
}

// EnableGzip compresses responses for clients that accept gzip.
func (s *Server) EnableGzip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gzip = true
}

// Calls returns how many requests hit the endpoint.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// TotalCalls returns the number of requests across all endpoints.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Requests returns the accepted create payloads in arrival order.
func (s *Server) Requests() []api.SubmissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.SubmissionRequest(nil), s.requests...)
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(s.trace, s.count, s.compress)
	router.POST("/api/submissions", s.createSubmission)
	router.GET("/api/submissions/:id", s.getSubmission)
	router.GET("/api/contests/:id", s.getContest)
	router.GET("/api/contests/:id/leaderboard", s.getLeaderboard)
	return router
}

// RequestIDs returns the request ids seen so far, in arrival order.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

// trace records the caller's request id and echoes it back, assigning one
// when the request carries none.
func (s *Server) trace(c *gin.Context) {
	requestID := strings.TrimSpace(c.GetHeader(httpclient.HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	s.mu.Lock()
	s.requestIDs = append(s.requestIDs, requestID)
	s.mu.Unlock()
	c.Writer.Header().Set(httpclient.HeaderRequestID, requestID)
	c.Next()
}

func (s *Server) count(c *gin.Context) {
	endpoint := ""
	switch path := c.Request.URL.Path; {
	case c.Request.Method == http.MethodPost && path == "/api/submissions":
		endpoint = EndpointCreate
	case strings.HasPrefix(path, "/api/submissions/"):
		endpoint = EndpointSubmission
	case strings.HasSuffix(path, "/leaderboard"):
		endpoint = EndpointLeaderboard
	case strings.HasPrefix(path, "/api/contests/"):
		endpoint = EndpointContest
	}
	if endpoint != "" {
		s.mu.Lock()
		s.calls[endpoint]++
		s.mu.Unlock()
	}
	c.Next()
}

type gzipWriter struct {
	gin.ResponseWriter
	zw *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	return w.zw.Write(data)
}

func (w *gzipWriter) WriteString(data string) (int, error) {
	return w.zw.Write([]byte(data))
}

func (s *Server) compress(c *gin.Context) {
	s.mu.Lock()
	enabled := s.gzip
	s.mu.Unlock()
	if !enabled || !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.Next()
		return
	}
	c.Header("Content-Encoding", "gzip")
	c.Header("Vary", "Accept-Encoding")
	zw := gzip.NewWriter(c.Writer)
	c.Writer = &gzipWriter{ResponseWriter: c.Writer, zw: zw}
	defer func() { _ = zw.Close() }()
	c.Next()
}

func writeError(c *gin.Context, err *pkgerrors.Error) {
	c.JSON(err.Code.HTTPStatus(), errorResponse{
		Code:    err.Code,
		Message: err.Error(),
		Details: err.Details,
	})
}

func (s *Server) createSubmission(c *gin.Context) {
	var req api.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, pkgerrors.Wrap(err, pkgerrors.InvalidParams))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createFailure != nil {
		writeError(c, s.createFailure)
		return
	}
	key := c.GetHeader("Idempotency-Key")
	if id, ok := s.idempotency[key]; ok && key != "" {
		c.JSON(http.StatusCreated, gin.H{"submissionId": api.ID(id)})
		return
	}

	s.nextID++
	id := strconv.Itoa(s.nextID)
	if s.idPrefix != "" {
		id = s.idPrefix + id
	}
	s.submissions[id] = &submission{request: req, script: s.script}
	if key != "" {
		s.idempotency[key] = id
	}
	s.requests = append(s.requests, req)
	c.JSON(http.StatusCreated, gin.H{"submissionId": api.ID(id)})
}

func (s *Server) getSubmission(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		writeError(c, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", id))
		return
	}
	step := sub.script[len(sub.script)-1]
	if sub.polls < len(sub.script) {
		step = sub.script[sub.polls]
	}
	sub.polls++
	if step.HTTPStatus != 0 {
		c.JSON(step.HTTPStatus, errorResponse{
			Code:    pkgerrors.FromHTTPStatus(step.HTTPStatus, pkgerrors.InternalServerError),
			Message: http.StatusText(step.HTTPStatus),
		})
		return
	}
	c.JSON(http.StatusOK, api.Submission{
		ID:        api.ID(id),
		ProblemID: sub.request.ProblemID,
		UserName:  sub.request.UserName,
		Language:  sub.request.Language,
		Status:    step.Status,
		Result:    step.Result,
	})
}

func (s *Server) contestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, pkgerrors.ValidationError("contestId", "must be an integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) getContest(c *gin.Context) {
	id, ok := s.contestID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	contest, ok := s.contests[id]
	if !ok {
		writeError(c, pkgerrors.Newf(pkgerrors.ContestNotFound, "Contest not found with id: %d", id))
		return
	}
	c.JSON(http.StatusOK, contest)
}

func (s *Server) getLeaderboard(c *gin.Context) {
	id, ok := s.contestID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderboardFails[id] > 0 {
		s.leaderboardFails[id]--
		writeError(c, pkgerrors.New(pkgerrors.ServiceUnavailable))
		return
	}
	entries := s.leaderboards[id]
	if entries == nil {
		entries = []api.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
