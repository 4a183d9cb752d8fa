package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy for gateway calls: 3 attempts total with exponential
// backoff (500ms, 1s, 2s). Responses in the 4xx range are not retried.
const (
	maxAttempts     = 3
	initialInterval = 500 * time.Millisecond
)

// Client is a REST client for the external messaging gateway.
// All calls are authenticated with a static API key.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// CreateInstanceResponse represents the gateway response to an instance create call
type CreateInstanceResponse struct {
	InstanceName string `json:"instance_name"`
	Status       string `json:"status"`
}

// QRCodeResponse represents a QR/pairing code issued by the gateway
type QRCodeResponse struct {
	Code   string `json:"code"`
	Base64 string `json:"base64,omitempty"`
}

// ConnectionStateResponse represents the gateway-observed state of an instance
type ConnectionStateResponse struct {
	InstanceName string `json:"instance_name"`
	State        string `json:"state"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

// ErrorResponse represents a gateway error payload
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusError is returned for non-retryable gateway responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new gateway client instance
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// CreateInstance provisions a new named instance on the gateway
func (c *Client) CreateInstance(ctx context.Context, name string) (*CreateInstanceResponse, error) {
	body := map[string]string{"instance_name": name}
	var resp CreateInstanceResponse
	if err := c.do(ctx, http.MethodPost, "/instance/create", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetQRCode requests a QR/pairing code for an instance
func (c *Client) GetQRCode(ctx context.Context, name string) (*QRCodeResponse, error) {
	var resp QRCodeResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConnectionState queries the gateway for the current state of an instance
func (c *Client) GetConnectionState(ctx context.Context, name string) (*ConnectionStateResponse, error) {
	var resp ConnectionStateResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout disconnects an instance from its paired phone without deleting it
func (c *Client) Logout(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+url.PathEscape(name), nil, nil)
}

// DeleteInstance removes an instance from the gateway
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(name), nil, nil)
}

// do performs an HTTP call against the gateway with the retry policy
// applied. Network errors and 5xx responses are retried; 4xx responses
// are surfaced immediately as *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("apikey", c.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
		}

		if resp.StatusCode >= 400 {
			var errResp ErrorResponse
			message := string(respBody)
			if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
				message = errResp.Error
			}
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Message: message})
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode gateway response: %w", err))
			}
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
}
