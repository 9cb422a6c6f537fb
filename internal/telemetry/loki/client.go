// Package loki pushes notification delivery outcomes to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultJob     = "custodial-ledger"
	defaultTimeout = 10 * time.Second
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Outcome is the result of one notification delivery attempt. It never carries the code.
// Expired marks a code that was past its expiry when the worker reached it; no delivery was attempted.
type Outcome struct {
	AccountID string    `json:"account_id"`
	Purpose   string    `json:"purpose"`
	Channel   string    `json:"channel"`
	Delivered bool      `json:"delivered"`
	Expired   bool      `json:"expired,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Client pushes log lines to a Loki instance.
type Client struct {
	BaseURL    string
	Job        string
	HTTPClient *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Job:        defaultJob,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// PushOutcome writes o as a JSON line labelled with purpose, channel and status.
func (c *Client) PushOutcome(ctx context.Context, o Outcome) error {
	line, err := json.Marshal(o)
	if err != nil {
		return err
	}
	status := "delivered"
	switch {
	case o.Expired:
		status = "expired"
	case !o.Delivered:
		status = "failed"
	}
	ts := o.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return c.PushEvent(ctx, ts, string(line), map[string]string{
		"purpose": o.Purpose,
		"channel": o.Channel,
		"status":  status,
	})
}

// PushEvent sends a single log line. labels are added to the stream next to job.
// Returns an error if the HTTP request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.BaseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	job := c.Job
	if job == "" {
		job = defaultJob
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = job
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
