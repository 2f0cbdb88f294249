// Package client talks to a running relgraph server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/relgraph/internal/server/api"
	"github.com/systemshift/relgraph/internal/server/relationships"
)

// DefaultURL is used when New is given an empty base URL.
const DefaultURL = "http://localhost:8080"

// Error is a non-success response from the server.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relgraph server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("relgraph server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client handles communication with the relgraph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateRelationship creates or updates an edge. Like the engine it returns
// nil without error when an endpoint does not exist.
func (c *Client) CreateRelationship(ctx context.Context, source, target relationships.EntityRef, relType string, props map[string]any) (*relationships.Relationship, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/relationships", api.RelationshipRequest{
		Source:     source,
		Target:     target,
		Type:       relType,
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, readError(resp)
	}

	var rel relationships.Relationship
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode relationship: %w", err)
	}
	return &rel, nil
}

// GetRelationships lists the edges around entity.
func (c *Client) GetRelationships(ctx context.Context, entity relationships.EntityRef, dir relationships.Direction, f relationships.Filter) ([]*relationships.Relationship, error) {
	params := url.Values{}
	if dir != "" {
		params.Set("direction", string(dir))
	}
	if f.Type != "" {
		params.Set("type", f.Type)
	}
	if f.RelatedType != "" {
		params.Set("related_type", f.RelatedType)
	}

	path := fmt.Sprintf("/api/entities/%s/%s/relationships", url.PathEscape(entity.Type), url.PathEscape(entity.ID))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var list api.ListRelationshipsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode relationships: %w", err)
	}
	return list.Relationships, nil
}

// DeleteRelationship removes an edge and reports whether one existed.
func (c *Client) DeleteRelationship(ctx context.Context, source, target relationships.EntityRef, relType string) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/api/relationships", api.RelationshipRequest{
		Source: source,
		Target: target,
		Type:   relType,
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, readError(resp)
}

// Health checks if the server and its backend are up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relgraph server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &Error{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
