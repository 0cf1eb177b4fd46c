package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethanbaker/api/pkg/api_types"
)

// Client wraps calls to the meeting assistant backend
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Health checks that the backend is reachable
func (c *Client) Health(ctx context.Context) error {
	var out ApiResponse[any]
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return err
	}
	return checkStatus("check health", out.Status, out.Message, out.Error)
}

// GetSession returns the current session snapshot
func (c *Client) GetSession(ctx context.Context) (*SessionSnapshot, error) {
	var out ApiResponse[SessionSnapshot]
	if err := c.doJSON(ctx, http.MethodGet, "/api/session", nil, &out); err != nil {
		return nil, err
	}
	if err := checkStatus("get session", out.Status, out.Message, out.Error); err != nil {
		return nil, err
	}

	return &out.Data, nil
}

// StartSession starts a browser-fed session and returns the tracks to upload into
func (c *Client) StartSession(ctx context.Context, offer *MediaOffer) (*StartSessionResponse, error) {
	var out ApiResponse[StartSessionResponse]
	if err := c.doJSON(ctx, http.MethodPost, "/api/session/start", offer, &out); err != nil {
		return nil, err
	}
	if err := checkStatus("start session", out.Status, out.Message, out.Error); err != nil {
		return nil, err
	}

	if len(out.Data.Tracks) == 0 {
		return nil, fmt.Errorf("no tracks returned")
	}

	return &out.Data, nil
}

// StopSession stops the active session
func (c *Client) StopSession(ctx context.Context) error {
	var out ApiResponse[any]
	if err := c.doJSON(ctx, http.MethodPost, "/api/session/stop", nil, &out); err != nil {
		return err
	}
	return checkStatus("stop session", out.Status, out.Message, out.Error)
}

// ClearSession empties the transcripts and the chat log
func (c *Client) ClearSession(ctx context.Context) error {
	var out ApiResponse[any]
	if err := c.doJSON(ctx, http.MethodPost, "/api/session/clear", nil, &out); err != nil {
		return err
	}
	return checkStatus("clear session", out.Status, out.Message, out.Error)
}

// Ask submits a typed question and returns its answer
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	var out ApiResponse[AskResponse]
	if err := c.doJSON(ctx, http.MethodPost, "/api/session/ask", &AskRequest{Question: question}, &out); err != nil {
		return "", err
	}
	if err := checkStatus("ask question", out.Status, out.Message, out.Error); err != nil {
		return "", err
	}

	return out.Data.Answer, nil
}

func checkStatus(action string, status api_types.StatusType, message string, detail any) error {
	switch status {
	case api_types.StatusFail:
		return fmt.Errorf("failed to %s: %s", action, message)
	case api_types.StatusError:
		return fmt.Errorf("error trying to %s (%s): %v", action, message, detail)
	}
	return nil
}

// doJSON is a helper to perform JSON requests to the backend
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	// Create request body if input is provided
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(b)
	}

	// Create the request
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	// Perform the request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// On error, read body and return error
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend '%s %s' failed: %d: %s", method, path, resp.StatusCode, string(b))
	}

	// If no output expected, return early
	if out == nil {
		return nil
	}

	// Decode the response body into the output struct
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}
