package checkin

import (
	"time"

	"newapi-checkin/internal/provider"
)

// State is a step of the per-account state machine. Only Succeeded and
// Failed appear in results.
type State string

const (
	StatePending        State = "pending"
	StateAuthenticating State = "authenticating"
	StateCheckingIn     State = "checking_in"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Kind classifies a failed account.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnexpectedPage     Kind = "unexpected_page"
	KindUnauthorized       Kind = "unauthorized"
	KindRateLimited        Kind = "rate_limited"
	KindUnexpected         Kind = "unexpected"
	KindInternal           Kind = "internal"
)

type Result struct {
	AccountName string `json:"account"`
	Provider    string `json:"provider"`
	// Method is the authentication method that produced the session, empty
	// when authentication failed.
	Method           string            `json:"method,omitempty"`
	Status           State             `json:"status"`
	Kind             Kind              `json:"kind,omitempty"`
	Message          string            `json:"message"`
	AlreadyCheckedIn bool              `json:"already_checked_in"`
	QuotaAwarded     *float64          `json:"quota_awarded,omitempty"`
	Balance          *provider.Balance `json:"balance,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

func (r Result) Succeeded() bool { return r.Status == StateSucceeded }

type Overall string

const (
	OverallSuccess Overall = "success"
	OverallFailure Overall = "failure"
)

type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results"`
}

// Aggregate reduces ordered results into a summary. Results keep their order.
func Aggregate(runID string, started time.Time, results []Result) Summary {
	s := Summary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: started,
		Total:      len(results),
		Results:    results,
	}
	for _, r := range results {
		if r.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if r.Timestamp.After(s.FinishedAt) {
			s.FinishedAt = r.Timestamp
		}
	}
	return s
}

// Overall is a failure only when no account succeeded.
func (s Summary) Overall() Overall {
	if s.Succeeded > 0 {
		return OverallSuccess
	}
	return OverallFailure
}

func (s Summary) ExitCode() int {
	if s.Overall() == OverallSuccess {
		return 0
	}
	return 1
}

func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Failures returns the failed results in order.
func (s Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if !r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}
