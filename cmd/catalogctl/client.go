package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type catalogClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *catalogClient {
	return &catalogClient{
		baseURL: serverURL,
		http: &http.Client{
			// a sync waits for the registry fetch
			Timeout: 2 * time.Minute,
		},
	}
}

// getJSON performs a GET request and decodes the response.
func (c *catalogClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

// postJSON performs a POST request with an optional JSON body and decodes
// the response.
func (c *catalogClient) postJSON(path string, body any, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

// putJSON performs a PUT request with a JSON body and decodes the response.
func (c *catalogClient) putJSON(path string, body any, v any) error {
	return c.do(http.MethodPut, path, body, v)
}

// deleteJSON performs a DELETE request and decodes the response.
func (c *catalogClient) deleteJSON(path string, v any) error {
	return c.do(http.MethodDelete, path, nil, v)
}

func (c *catalogClient) do(method, path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, serverMessage(bodyBytes))
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

// serverMessage extracts the error field of a JSON error body, falling back
// to the raw body.
func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}
