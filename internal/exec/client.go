// Package exec is the client for the sandbox execution service, a
// Judge0-compatible HTTP API consumed as submit-then-poll. Sandboxing
// itself happens on the service side; this package only speaks its
// protocol.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// Status ids at or below this mean the submission is still queued
	// or running.
	statusInProgressMax = 2

	pollInterval    = 500 * time.Millisecond
	maxPollAttempts = 20
)

// languageIDs maps the room language selector to the service's numeric
// language ids.
var languageIDs = map[string]int{
	"c":          50,
	"cpp":        54,
	"go":         60,
	"java":       62,
	"javascript": 63,
	"python":     71,
	"ruby":       72,
	"typescript": 74,
}

type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Status string `json:"status"`
	Memory int    `json:"memory"`
	Time   string `json:"time"`
}

// ErrUnknownLanguage is returned before any network call when the
// requested language has no id mapping.
var ErrUnknownLanguage = errors.New("exec: unknown language")

// ErrTimeout is returned when the submission does not reach a terminal
// status within the polling budget.
var ErrTimeout = errors.New("exec: submission did not complete in time")

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		pollInterval: pollInterval,
		maxAttempts:  maxPollAttempts,
	}
}

type submission struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin,omitempty"`
}

type submissionHandle struct {
	Token string `json:"token"`
}

type submissionStatus struct {
	Stdout *string `json:"stdout"`
	Stderr *string `json:"stderr"`
	Memory int     `json:"memory"`
	Time   string  `json:"time"`
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Run submits the code and polls until the service reports a terminal
// status. Polling is bounded: a fixed interval and a maximum attempt
// count, so a stuck submission never blocks a caller forever.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	token, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		status, err := c.poll(ctx, token)
		if err != nil {
			return nil, err
		}
		if status.Status.ID > statusInProgressMax {
			return &Result{
				Stdout: deref(status.Stdout),
				Stderr: deref(status.Stderr),
				Status: status.Status.Description,
				Memory: status.Memory,
				Time:   status.Time,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, ErrTimeout
}

func (c *Client) submit(ctx context.Context, req Request) (string, error) {
	languageID, ok := languageIDs[req.Language]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, req.Language)
	}

	body, err := json.Marshal(submission{
		SourceCode: req.Code,
		LanguageID: languageID,
		Stdin:      req.Stdin,
	})
	if err != nil {
		return "", fmt.Errorf("exec: encoding submission: %w", err)
	}

	url := c.baseURL + "/submissions?base64_encoded=false&wait=false"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("exec: building submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-Auth-Token", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("exec: submitting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exec: service rejected submission: %s", resp.Status)
	}

	var handle submissionHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return "", fmt.Errorf("exec: decoding submission handle: %w", err)
	}
	if handle.Token == "" {
		return "", errors.New("exec: service returned no submission handle")
	}
	return handle.Token, nil
}

func (c *Client) poll(ctx context.Context, token string) (*submissionStatus, error) {
	url := c.baseURL + "/submissions/" + token + "?base64_encoded=false"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("exec: building poll request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-Auth-Token", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("exec: polling: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exec: polling submission %s: %s", token, resp.Status)
	}

	var status submissionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("exec: decoding submission status: %w", err)
	}
	return &status, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
