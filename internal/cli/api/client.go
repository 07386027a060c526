package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	httpclient "shodhcode/internal/cli/http"
	pkgerrors "shodhcode/pkg/errors"
	"shodhcode/pkg/utils/contextkey"
	"shodhcode/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxErrorBody = 256

// Doer is the transport the client needs. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (httpclient.ResponseInfo, error)
}

// Client calls the judge backend.
type Client struct {
	http Doer
}

func NewClient(doer Doer) *Client {
	return &Client{http: doer}
}

// CreateSubmission posts a new submission and returns the id the backend
// assigned. Every failure carries SubmissionCreateFailed.
func (c *Client) CreateSubmission(ctx context.Context, req SubmissionRequest) (ID, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "encode submission failed: %v", err)
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	resp, err := c.http.Do(ctx, http.MethodPost, "/api/submissions", headers, body)
	if err != nil {
		return "", pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "create submission failed: %v", err)
	}
	if !resp.OK() {
		return "", statusError(resp, pkgerrors.SubmissionCreateFailed, "create submission")
	}
	var out createSubmissionResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "decode create response failed: %v", err).
			WithDetail("status", resp.StatusCode)
	}
	if out.SubmissionID.IsZero() {
		return "", pkgerrors.Newf(pkgerrors.SubmissionCreateFailed, "create response has no submissionId").
			WithDetail("status", resp.StatusCode)
	}
	logger.Info(context.WithValue(ctx, contextkey.SubmissionID, out.SubmissionID.String()), "submission created",
		zap.Int64("contest_id", req.ContestID),
		zap.String("problem_id", req.ProblemID.String()),
		zap.String("language", string(req.Language)),
	)
	return out.SubmissionID, nil
}

// GetSubmission fetches the current status of a submission. A 404 yields
// SubmissionNotFound; every other failure SubmissionPollFailed.
func (c *Client) GetSubmission(ctx context.Context, id ID) (Submission, error) {
	var sub Submission
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/submissions/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return sub, pkgerrors.Wrapf(err, pkgerrors.SubmissionPollFailed, "get submission failed: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return sub, statusError(resp, pkgerrors.SubmissionNotFound, "get submission")
	}
	if !resp.OK() {
		return sub, statusError(resp, pkgerrors.SubmissionPollFailed, "get submission")
	}
	if err := json.Unmarshal(resp.Body, &sub); err != nil {
		return sub, pkgerrors.Wrapf(err, pkgerrors.SubmissionPollFailed, "decode submission failed: %v", err)
	}
	if sub.ID.IsZero() {
		sub.ID = id
	}
	return sub, nil
}

// GetLeaderboard fetches the ranked entries of a contest in backend
// order.
func (c *Client) GetLeaderboard(ctx context.Context, contestID int64) ([]LeaderboardEntry, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/contests/"+strconv.FormatInt(contestID, 10)+"/leaderboard", nil, nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.LeaderboardFetchFailed, "get leaderboard failed: %v", err)
	}
	if !resp.OK() {
		return nil, statusError(resp, pkgerrors.LeaderboardFetchFailed, "get leaderboard")
	}
	var entries []LeaderboardEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.LeaderboardFetchFailed, "decode leaderboard failed: %v", err)
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	return entries, nil
}

// GetContest fetches contest details and its problems.
func (c *Client) GetContest(ctx context.Context, contestID int64) (Contest, error) {
	var contest Contest
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/contests/"+strconv.FormatInt(contestID, 10), nil, nil)
	if err != nil {
		return contest, pkgerrors.Wrapf(err, pkgerrors.TransportFailed, "get contest failed: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return contest, statusError(resp, pkgerrors.ContestNotFound, "get contest").
			WithMessagef("contest %d not found", contestID)
	}
	if !resp.OK() {
		return contest, statusError(resp, pkgerrors.FromHTTPStatus(resp.StatusCode, pkgerrors.UnexpectedStatus), "get contest")
	}
	if err := json.Unmarshal(resp.Body, &contest); err != nil {
		return contest, pkgerrors.Wrapf(err, pkgerrors.DecodeFailed, "decode contest failed: %v", err)
	}
	return contest, nil
}

func statusError(resp httpclient.ResponseInfo, code pkgerrors.ErrorCode, op string) *pkgerrors.Error {
	msg := backendMessage(resp.Body)
	text := fmt.Sprintf("%s failed: HTTP %d", op, resp.StatusCode)
	if msg != "" {
		text += ": " + msg
	}
	return pkgerrors.Newf(code, "%s", text).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", msg).
		WithDetail("request_id", resp.RequestID)
}

// backendMessage pulls a human readable reason out of an error body.
func backendMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
