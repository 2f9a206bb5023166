package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"trendaware-backend/internal/models"
)

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(opts *rootOptions) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(opts.server, "/") + "/api/v1",
		token:   opts.token,
		http:    &http.Client{},
	}
}

// do sends body as JSON. Non-2xx answers are decoded from the error envelope
// and returned as errors; the caller owns the response body otherwise.
func (c *apiClient) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return resp, decodeAPIError(resp)
}

func decodeAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	var env models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error.Code == "" {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	msg := fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)
	for field, problem := range env.Error.Fields {
		msg += fmt.Sprintf("; %s: %s", field, problem)
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		msg += fmt.Sprintf(" (retry after %ss)", ra)
	}
	return fmt.Errorf("%s", msg)
}
