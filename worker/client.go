// Package worker is the out-of-process job runner: it polls the control
// plane for queued jobs, claims them under a lease, executes the handler
// for the job kind, and submits the result. It also drives the periodic
// maintenance endpoints (lease reaping, freshness enqueue).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the control plane's machine surface.
type Client struct {
	BaseURL  string
	ModuleID string
	APIKey   string
	HTTP     *http.Client
}

// NewClient builds a client with a bounded request timeout.
func NewClient(baseURL, moduleID, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ModuleID: moduleID,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Job is the wire view of a queue job.
type Job struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	InputsJSON map[string]any `json:"inputs_json"`
	Status     string         `json:"status"`
	Attempt    int            `json:"attempt"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Module-Id", c.ModuleID)
	req.Header.Set("X-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// APIError carries a non-2xx control-plane response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("worker: control plane returned %d: %s", e.Status, e.Body)
}

// ListJobs fetches runnable jobs.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/jobs?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Claim leases a job. A 404 or 409 means another worker won the race.
func (c *Client) Claim(ctx context.Context, jobID string, leaseSeconds int) (*Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/claim",
		map[string]any{"lease_seconds": leaseSeconds}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SubmitResult completes a claimed job.
func (c *Client) SubmitResult(ctx context.Context, jobID, status string, resultJSON, errorJSON map[string]any) error {
	body := map[string]any{"status": status}
	if resultJSON != nil {
		body["result_json"] = resultJSON
	}
	if errorJSON != nil {
		body["error_json"] = errorJSON
	}
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/result", body, nil)
}

// ReapExpired requeues expired leases.
func (c *Client) ReapExpired(ctx context.Context, limit int) (int, error) {
	var out struct {
		Requeued int `json:"requeued"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/reap-expired?limit=%d", limit), nil, &out)
	return out.Requeued, err
}

// EnqueueFreshness seeds due freshness checks.
func (c *Client) EnqueueFreshness(ctx context.Context, limit int) (int, error) {
	var out struct {
		Enqueued int `json:"enqueued"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/enqueue-freshness?limit=%d", limit), nil, &out)
	return out.Enqueued, err
}
