// Package claude is a read-only client for the claude.ai web API.
//
// Authentication uses the browser session cookie. Requests are paced by a
// token bucket and retried on network and server errors.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the organizations endpoint of the web API.
	BaseURL = "https://claude.ai/api/organizations"
	// DefaultRequestsPerSecond paces requests like a browser would.
	DefaultRequestsPerSecond = 5
	// DefaultRetries is the number of attempts for transient failures.
	DefaultRetries = 3

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	maxBody   = 64 << 20
)

// Sentinel errors returned (wrapped) by Client methods.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("session expired or invalid; log into claude.ai in your browser and refresh the session key")
	ErrRateLimited     = errors.New("rate limited")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("API error (status %d) for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("API error (status %d) for %s", e.StatusCode, e.URL)
}

// Unwrap maps the status code to a sentinel.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthenticated
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// DecodeError is a response body that is not the expected JSON shape.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unexpected response format for %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Retries           int
	RetryDelay        time.Duration
	HTTPClient        *http.Client
}

// Client is a rate-limited claude.ai API client for one organization.
type Client struct {
	base       string
	org        string
	sessionKey string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	retryDelay time.Duration
}

// New returns a Client for org authenticated by sessionKey.
func New(org, sessionKey string, opts Options) *Client {
	c := &Client{
		base:       opts.BaseURL,
		org:        org,
		sessionKey: sessionKey,
		httpClient: opts.HTTPClient,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
	}
	if c.base == "" {
		c.base = BaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.retries <= 0 {
		c.retries = DefaultRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return c
}

// get fetches path below the organization and returns the body.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.base + "/" + url.PathEscape(c.org) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var lastErr error
	for attempt := range c.retries {
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying request", "url", u, "attempt", attempt+1, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		body, err := c.do(ctx, u)
		if err == nil {
			return body, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retries, lastErr)
}

func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")
	req.AddCookie(&http.Cookie{Name: "sessionKey", Value: c.sessionKey})

	slog.DebugContext(ctx, "GET", "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, URL: u, Body: snippet}
	}
	return body, nil
}

// retryable is true for network errors and server errors.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var decErr *DecodeError
	return !errors.As(err, &decErr)
}

// ListProjects returns the projects of the organization, without prompt
// templates.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	data, err := c.get(ctx, "/projects", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return decodeList[Project](data, "projects")
}

// GetProject returns the full project including its prompt template.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	data, err := c.get(ctx, "/projects/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	p := &Project{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, &DecodeError{What: "project " + id, Err: err}
	}
	return p, nil
}

// ListDocuments returns the documents of a project with their content.
func (c *Client) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	data, err := c.get(ctx, "/projects/"+url.PathEscape(projectID)+"/docs", url.Values{"tree": {"true"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", projectID, err)
	}
	return decodeList[Document](data, "documents")
}

// ListConversations returns the conversations of a project, without
// messages.
func (c *Client) ListConversations(ctx context.Context, projectID string) ([]Conversation, error) {
	data, err := c.get(ctx, "/projects/"+url.PathEscape(projectID)+"/conversations", url.Values{"tree": {"true"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations of %s: %w", projectID, err)
	}
	return decodeList[Conversation](data, "conversations")
}

// ListStandaloneConversations returns the conversations that belong to no
// project.
func (c *Client) ListStandaloneConversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.get(ctx, "/chat_conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	all, err := decodeList[Conversation](data, "conversations")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, conv := range all {
		if !conv.InProject() {
			out = append(out, conv)
		}
	}
	return out, nil
}

// GetConversation returns a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	q := url.Values{"rendering_mode": {"messages"}, "render_all_tools": {"true"}}
	data, err := c.get(ctx, "/chat_conversations/"+url.PathEscape(id), q)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	conv := &Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, &DecodeError{What: "conversation " + id, Err: err}
	}
	return conv, nil
}
