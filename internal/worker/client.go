package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clouddfe/cfsq/internal/api"
	"github.com/clouddfe/cfsq/internal/domain"
)

// PulledJob is the unit of work a slot received from the scheduler.
type PulledJob struct {
	ID             string
	Params         domain.Params
	Attempt        int
	LeaseExpiresAt time.Time
}

// SchedulerClient is the pull/report protocol as seen from a worker slot.
type SchedulerClient interface {
	Pull(ctx context.Context) (*PulledJob, error)
	Heartbeat(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID, resultURI string) error
	Fail(ctx context.Context, jobID, reason string) error
}

// Client talks to the scheduler API over HTTP. Every call is a fresh
// request; the scheduler keeps no per-worker state beyond leases.
type Client struct {
	base     string
	workerID string
	http     *http.Client
}

func NewClient(baseURL, workerID string) *Client {
	return &Client{
		base:     baseURL,
		workerID: workerID,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

var _ SchedulerClient = (*Client)(nil)

func (c *Client) WorkerID() string { return c.workerID }

func (c *Client) Pull(ctx context.Context) (*PulledJob, error) {
	resp, err := c.post(ctx, "/v1/pull", api.PullRequest{WorkerID: c.workerID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var pr api.PullResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return nil, fmt.Errorf("decode pull response: %w", err)
		}
		return &PulledJob{
			ID:             pr.JobID,
			Params:         pr.Params,
			Attempt:        pr.Attempt,
			LeaseExpiresAt: pr.LeaseExpiresAt,
		}, nil
	default:
		return nil, decodeError(resp)
	}
}

func (c *Client) Heartbeat(ctx context.Context, jobID string) error {
	resp, err := c.post(ctx, "/v1/heartbeat", api.HeartbeatRequest{WorkerID: c.workerID, JobID: jobID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return decodeError(resp)
}

func (c *Client) Complete(ctx context.Context, jobID, resultURI string) error {
	resp, err := c.post(ctx, "/v1/complete", api.CompleteRequest{
		WorkerID: c.workerID, JobID: jobID, ResultURI: resultURI,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return decodeError(resp)
}

func (c *Client) Fail(ctx context.Context, jobID, reason string) error {
	resp, err := c.post(ctx, "/v1/fail", api.FailRequest{
		WorkerID: c.workerID, JobID: jobID, Reason: reason,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return decodeError(resp)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// decodeError maps the scheduler's error envelope back onto the domain
// taxonomy so callers can errors.Is their way to a decision.
func decodeError(resp *http.Response) error {
	var er api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("scheduler returned %d", resp.StatusCode)
	}
	switch er.Error {
	case "not_owner":
		return fmt.Errorf("%s: %w", er.Message, domain.ErrNotOwner)
	case "conflict":
		return fmt.Errorf("%s: %w", er.Message, domain.ErrConflict)
	case "not_found":
		return fmt.Errorf("%s: %w", er.Message, domain.ErrNotFound)
	}
	return fmt.Errorf("scheduler returned %d: %s", resp.StatusCode, er.Message)
}
