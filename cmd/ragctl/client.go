package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type ragClient struct {
	baseURL   string
	principal string
	http      *http.Client
}

func newClient() *ragClient {
	return &ragClient{
		baseURL:   serverURL,
		principal: principal,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError is the error body returned by the server.
type apiError struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

// do sends a request with an optional JSON body and decodes a successful
// response into v when v is non-nil.
func (c *ragClient) do(method, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.principal != "" {
		req.Header.Set("X-User-Principal", c.principal)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, e.Kind, e.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}

	if v != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

func (c *ragClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *ragClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}
