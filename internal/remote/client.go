// Package remote implements the HTTP client for the remote coding-assistant
// API: source catalog, session lifecycle, activity feed, and publishing.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single HTTP request to the remote service.
const DefaultTimeout = 30 * time.Second

// Client talks to the remote assistant service on behalf of one tenant
// credential. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // defaults to DefaultTimeout
	// For testing: inject a transport instead of the default.
	Transport http.RoundTripper
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("remote: api key is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
	}, nil
}

type listSourcesResponse struct {
	Sources       []Source `json:"sources"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// ListSources fetches one page of the source catalog. An empty pageToken
// requests the first page.
func (c *Client) ListSources(ctx context.Context, pageToken string) ([]Source, string, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	var resp listSourcesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sources", q, nil, "", &resp); err != nil {
		return nil, "", err
	}
	return resp.Sources, resp.NextPageToken, nil
}

// CreateSession starts a new remote coding session. The request carries a
// client-generated idempotency key so a retried create cannot spawn a
// duplicate session on the remote side.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, req, uuid.NewString(), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	path := "/v1/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SendMessage delivers a user message into a running session.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	body := map[string]string{"text": text}
	return c.do(ctx, http.MethodPost, path, nil, body, uuid.NewString(), nil)
}

// ApprovePlan approves the pending plan for a session.
func (c *Client) ApprovePlan(ctx context.Context, sessionID string) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/plan/approve"
	return c.do(ctx, http.MethodPost, path, nil, nil, uuid.NewString(), nil)
}

type listActivitiesResponse struct {
	Activities    []Activity `json:"activities"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// ListActivities fetches one page of a session's activity feed, oldest
// first. Items carry an opaque id whose lexicographic order matches
// creation order.
func (c *Client) ListActivities(ctx context.Context, sessionID, pageToken string) ([]Activity, string, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/activities"
	var resp listActivitiesResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, "", &resp); err != nil {
		return nil, "", err
	}
	return resp.Activities, resp.NextPageToken, nil
}

// PublishBranch pushes the session's work to a remote branch.
func (c *Client) PublishBranch(ctx context.Context, sessionID string) (*PublishResult, error) {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/publish/branch"
	var res PublishResult
	if err := c.do(ctx, http.MethodPost, path, nil, nil, uuid.NewString(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PublishPR opens a pull request from the session's work.
func (c *Client) PublishPR(ctx context.Context, sessionID string) (*PublishResult, error) {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/publish/pr"
	var res PublishResult
	if err := c.do(ctx, http.MethodPost, path, nil, nil, uuid.NewString(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type apiErrorBody struct {
	Error string `json:"error"`
}

// do performs one JSON request. Non-2xx responses become *APIError; the
// response body, when present, is decoded into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb apiErrorBody
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			if json.Unmarshal(data, &eb) == nil {
				apiErr.Message = eb.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}
