package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/movingmountains/driversync/internal/core/domain"
)

// TokenProvider supplies the current bearer token and handles session
// invalidation. Credential storage itself lives outside this module.
type TokenProvider interface {
	Token() (string, error)
	Invalidate()
}

// StaticTokenProvider wraps a fixed token, for the agent binary and tests.
// Invalidation may come from the drain goroutine while a fetch reads the
// token, so access is guarded.
type StaticTokenProvider struct {
	mu    sync.Mutex
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", ErrNoToken
	}
	return p.token, nil
}

func (p *StaticTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

// Client talks to the logistics backend's job endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
}

// NewClient creates a backend API client.
func NewClient(baseURL string, tokens TokenProvider, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// JobQuery filters the job list endpoint.
type JobQuery struct {
	Status   string
	Assigned *bool
}

// StatusUpdateRequest is the body for PUT /jobs/{id}/status.
type StatusUpdateRequest struct {
	Status     string                    `json:"status"`
	Notes      string                    `json:"notes,omitempty"`
	Photos     []string                  `json:"photos,omitempty"`
	Dimensions *domain.PackageDimensions `json:"dimensions,omitempty"`
}

// CompleteRequest is the body for PUT /jobs/{id}/complete.
type CompleteRequest struct {
	Status string   `json:"status"`
	Notes  string   `json:"notes,omitempty"`
	Photos []string `json:"photos,omitempty"`
}

// GetJobs fetches job projections, optionally filtered.
func (c *Client) GetJobs(ctx context.Context, q JobQuery) ([]domain.Job, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Assigned != nil {
		params.Set("assigned", strconv.FormatBool(*q.Assigned))
	}
	endpoint := "/jobs"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var jobs []domain.Job
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// AcceptJob claims an available job for the current driver. A 409 means
// another driver got there first.
func (c *Client) AcceptJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/jobs/%d/accept", jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus advances a job to a new status.
func (c *Client) UpdateJobStatus(ctx context.Context, jobID int64, req StatusUpdateRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/jobs/%d/status", jobID), req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CompleteJob closes out a delivered job.
func (c *Client) CompleteJob(ctx context.Context, jobID int64, req CompleteRequest) (*domain.Job, error) {
	req.Status = "completed"
	var job domain.Job
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/jobs/%d/complete", jobID), req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			Status:  resp.StatusCode,
			Message: extractErrorMessage(data),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// extractErrorMessage pulls the backend's {"error": "..."} body if present.
func extractErrorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return ""
}
