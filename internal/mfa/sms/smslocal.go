// Package sms delivers verification codes through the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://app.smslocal.in/api/smsapi"
)

// ErrNoAPIKey is returned by Send when the client has no API key.
var ErrNoAPIKey = errors.New("sms: API key not configured")

// SMSLocalClient sends OTP SMS via the SMS Local API (route=otp).
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send delivers code to phone. Non-digit characters in phone are dropped. Does not log the code.
func (c *SMSLocalClient) Send(ctx context.Context, phone, code string) error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	number := digitsOnly(phone)
	if number == "" {
		return fmt.Errorf("sms: destination %q has no digits", phone)
	}
	body := map[string]interface{}{
		"route":     "otp",
		"numbers":   number,
		"variables": code,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
