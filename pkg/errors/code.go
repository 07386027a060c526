package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest & Leaderboard errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Transport errors (10400-10499)
	TransportFailed  ErrorCode = 10400
	UnexpectedStatus ErrorCode = 10401
	DecodeFailed     ErrorCode = 10402

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	LanguageNotSupported   ErrorCode = 13003

	// Tracking (13300-13399)
	SubmissionPollFailed   ErrorCode = 13300
	SubmissionTrackTimeout ErrorCode = 13301
	TrackerClosed          ErrorCode = 13302
	SubmissionSuperseded   ErrorCode = 13303

	// ========== Contest & Leaderboard Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound   ErrorCode = 14000
	ContestNotStarted ErrorCode = 14001
	ContestEnded      ErrorCode = 14002
	ContestNotJoined  ErrorCode = 14003

	// Ranking (14200-14299)
	RankingNotAvailable    ErrorCode = 14200
	LeaderboardFetchFailed ErrorCode = 14202
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Transport
	TransportFailed:  "Judge backend is unreachable",
	UnexpectedStatus: "Judge backend returned an unexpected status",
	DecodeFailed:     "Judge backend returned a malformed response",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	LanguageNotSupported:   "Programming language not supported",

	// Tracking
	SubmissionPollFailed:   "Failed to check submission status",
	SubmissionTrackTimeout: "Submission is still processing, stopped watching",
	TrackerClosed:          "Submission tracker is closed",
	SubmissionSuperseded:   "Submission was cancelled or replaced before tracking started",

	// Contest
	ContestNotFound:   "Contest not found",
	ContestNotStarted: "Contest has not started yet",
	ContestEnded:      "Contest has ended",
	ContestNotJoined:  "Join a contest first",

	// Ranking
	RankingNotAvailable:    "Ranking is not available",
	LeaderboardFetchFailed: "Failed to fetch leaderboard",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the HTTP status the judge backend answers with for the code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound, c == SubmissionNotFound, c == ContestNotFound:
		return http.StatusNotFound
	case c == ServiceUnavailable:
		return http.StatusServiceUnavailable
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == LanguageNotSupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus maps a non-2xx backend status to the closest code,
// falling back to the given default.
func FromHTTPStatus(status int, fallback ErrorCode) ErrorCode {
	switch status {
	case http.StatusNotFound:
		return NotFound
	case http.StatusTooManyRequests:
		return ServiceUnavailable
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return ServiceUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return Timeout
	default:
		return fallback
	}
}
