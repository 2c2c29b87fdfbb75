package main

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

// apiClient talks to the server's JSON API
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	StatusCode int
	Message    string
	Code       string
	Invalid    []string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if len(e.Invalid) > 0 {
		msg += ": " + strings.Join(e.Invalid, ", ")
	}
	return msg
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error   string   `json:"error"`
			Code    string   `json:"code"`
			Invalid []string `json:"invalid"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code, apiErr.Invalid = payload.Error, payload.Code, payload.Invalid
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
