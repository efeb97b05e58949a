// Package evalrun is the client for the external evaluation-runner
// collaborator. The engine only triggers runs and polls their status; it
// never executes evaluations itself.
package evalrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RunStatus is what the runner reports for one run.
type RunStatus struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
}

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Trigger starts a suite run against a build and returns the runner's
// opaque run id.
func (c *Client) Trigger(ctx context.Context, buildID, suiteID string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"buildId": buildID,
		"suiteId": suiteID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build trigger request: %w", err)
	}
	c.decorate(req)

	var result RunStatus
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.RunID == "" {
		return "", fmt.Errorf("eval runner returned no run id")
	}
	return result.RunID, nil
}

// Poll fetches the current status of a run.
func (c *Client) Poll(ctx context.Context, runID string) (RunStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+runID, nil)
	if err != nil {
		return RunStatus{}, fmt.Errorf("build poll request: %w", err)
	}
	c.decorate(req)

	var result RunStatus
	if err := c.do(req, &result); err != nil {
		return RunStatus{}, err
	}
	if result.RunID == "" {
		result.RunID = runID
	}
	return result, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("eval runner request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read eval runner response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("eval runner status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode eval runner response: %w", err)
	}
	return nil
}
