// Package provider is the REST client for the external scraping provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Config points the client at the provider API.
type Config struct {
	BaseURL        string
	Token          string
	WebhookURL     string
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// Client starts provider runs and re-polls their status. It implements
// scrape.StatusProber for the completion watcher's rechecks.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a provider Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// StartRun submits a detail-fetch run for a job. The provider reports
// completion later by calling the configured webhook with the job ID.
func (c *Client) StartRun(ctx context.Context, jobID, url string, params map[string]string) error {
	input := map[string]any{
		"job_id":      jobID,
		"url":         url,
		"params":      params,
		"webhook_url": c.cfg.WebhookURL,
	}
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/runs?token=%s", c.cfg.BaseURL, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("start run: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Probe fetches the current status of a job's run. resolved is false
// while the run is still in flight.
func (c *Client) Probe(ctx context.Context, jobID string) (scrape.WebhookOutcome, bool, error) {
	endpoint := fmt.Sprintf("%s/v2/runs/%s?token=%s", c.cfg.BaseURL, jobID, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch run status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("fetch run status: status %d", resp.StatusCode)
	}

	var status struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", false, fmt.Errorf("decode run status: %w", err)
	}

	switch status.Data.Status {
	case "SUCCEEDED":
		return scrape.OutcomeSuccess, true, nil
	case "FAILED", "ABORTED", "TIMED-OUT":
		return scrape.OutcomeFailure, true, nil
	default:
		return "", false, nil
	}
}
