// Package transport is the outbound boundary to the message provider's
// cloud API. The provider is a black box: one POST endpoint that accepts a
// structured message and answers with a message id or an error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendResult models the provider response: whether the call succeeded, the
// HTTP status, and the raw response body for message-id extraction.
type SendResult struct {
	OK     bool
	Status int
	Data   json.RawMessage
}

// Sender is the seam the worker dispatches through.
type Sender interface {
	Send(ctx context.Context, payload json.RawMessage) (SendResult, error)
}

// Client talks to the real provider API.
type Client struct {
	BaseURL string
	PhoneID string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, phoneID, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		PhoneID: phoneID,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts the payload to the provider. A transport-level failure (no
// response at all) comes back with Status zero, which the retry policy
// treats like a 5xx.
func (c *Client) Send(ctx context.Context, payload json.RawMessage) (SendResult, error) {
	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{Status: resp.StatusCode}, fmt.Errorf("read provider response: %w", err)
	}

	result := SendResult{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Data:   body,
	}
	if !result.OK {
		return result, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return result, nil
}

// ExtractMessageID locates the provider-assigned message id in a successful
// response body.
func ExtractMessageID(data json.RawMessage) (string, error) {
	var body struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if len(body.Messages) == 0 || body.Messages[0].ID == "" {
		return "", fmt.Errorf("provider response has no message id")
	}
	return body.Messages[0].ID, nil
}

// Retryable reports whether a failed send is worth retrying: rate limiting,
// server-side errors, or no response at all. Other 4xx are permanent.
func Retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
