package api

import (
	"time"

	"github.com/clouddfe/cfsq/internal/domain"
)

// SubmitItem is one parameter tuple in a submit batch. Priority boosts
// selection order but is not part of job identity.
type SubmitItem struct {
	domain.Params
	Priority bool `json:"priority,omitempty"`
}

type SubmitRequest struct {
	Jobs []SubmitItem `json:"jobs"`
}

type SubmitResponse struct {
	IDs []string `json:"ids"`
}

type PullRequest struct {
	WorkerID string `json:"worker_id"`
}

type PullResponse struct {
	JobID          string        `json:"job_id"`
	Params         domain.Params `json:"params"`
	Attempt        int           `json:"attempt"`
	LeaseExpiresAt time.Time     `json:"lease_expires_at"`
}

type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
}

type HeartbeatResponse struct {
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

type CompleteRequest struct {
	WorkerID  string `json:"worker_id"`
	JobID     string `json:"job_id"`
	ResultURI string `json:"result_uri"`
}

type FailRequest struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
	Reason   string `json:"reason"`
}

type FailedJob struct {
	ID       string `json:"id"`
	Srcmod   string `json:"srcmod"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

type StatusResponse struct {
	Counts  map[string]int `json:"counts"`
	Running int            `json:"running"`
	Failed  []FailedJob    `json:"failed,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
