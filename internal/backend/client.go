// Package backend talks to the StyleURL API. Every call resolves to a
// Response value; failures are reported as Success == false, never as errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/metrics"
)

const (
	PathStylesheetGroups = "/api/stylesheet_groups"
	PathPhotosPresign    = "/api/photos/presign"
	PathPhotosProcess    = "/api/photos/process"
)

// CookieSource supplies the browser's cookies for a URL so backend calls
// carry the user's session.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Version     string
	Environment string
	HTTPClient  *http.Client
	Cookies     CookieSource
	Metrics     *metrics.Metrics
}

// Client performs authenticated JSON requests against the backend.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	cookies   CookieSource
	metrics   *metrics.Metrics
}

// Response is the decoded backend envelope.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ProcessRequest asks the backend to attach an uploaded screenshot to an artifact.
type ProcessRequest struct {
	URL              string `json:"url"`
	StylesheetKey    string `json:"stylesheet_key"`
	StylesheetDomain string `json:"stylesheet_domain"`
	ContentType      string `json:"content_type"`
}

// NewClient builds a Client. A nil HTTPClient gets a fresh client with its
// own cookie jar.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		jar, _ := cookiejar.New(nil)
		hc = &http.Client{Jar: jar}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: UserAgent(opts.Version, opts.Environment),
		http:      hc,
		cookies:   opts.Cookies,
		metrics:   opts.Metrics,
	}
}

// UserAgent formats the User-Agent header sent on every backend call.
func UserAgent(version, environment string) string {
	return fmt.Sprintf("StyleURL v%s (%s)", version, environment)
}

// BaseURL returns the backend origin, without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying client so other backend consumers share
// its cookie jar.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Decorate attaches the User-Agent header and the browser's cookies for the
// request URL.
func (c *Client) Decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	c.attachCookies(ctx, req)
}

func (c *Client) attachCookies(ctx context.Context, req *http.Request) {
	if c.cookies == nil {
		return
	}
	cookies, err := c.cookies.Cookies(ctx, req.URL.String())
	if err != nil {
		slog.Debug("backend cookie lookup failed", "url", req.URL.String(), "error", err)
		return
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
}

// Do sends one JSON request. body may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body any) Response {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		slog.Error("backend request failed", "method", method, "path", path, "error", err)
		c.metrics.BackendRequest(path, false)
		return Response{Success: false}
	}
	c.metrics.BackendRequest(path, resp.Success)
	return resp
}

func (c *Client) do(ctx context.Context, method, path string, body any) (Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("backend: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("backend: build %s: %w", path, err)
	}
	c.Decorate(ctx, req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("backend: read %s: %w", path, err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("backend: decode %s (status %d): %w", path, resp.StatusCode, err)
	}
	return out, nil
}

// SubmitStylesheets creates a stylesheet group for the page at pageURL.
func (c *Client) SubmitStylesheets(ctx context.Context, pageURL string, stylesheets []message.Stylesheet) message.StylesheetGroupResult {
	if stylesheets == nil {
		stylesheets = []message.Stylesheet{}
	}
	body := struct {
		URL         string               `json:"url"`
		Stylesheets []message.Stylesheet `json:"stylesheets"`
	}{URL: pageURL, Stylesheets: stylesheets}

	resp := c.Do(ctx, http.MethodPost, PathStylesheetGroups, body)
	if !resp.Success {
		return message.StylesheetGroupResult{Success: false}
	}

	var group message.StylesheetGroup
	if len(resp.Data) == 0 || json.Unmarshal(resp.Data, &group) != nil || group.ID == "" {
		slog.Error("backend stylesheet group missing data", "path", PathStylesheetGroups, "data", string(resp.Data))
		return message.StylesheetGroupResult{Success: false}
	}
	return message.StylesheetGroupResult{Success: true, Data: &group}
}

// ProcessPhoto notifies the backend that a screenshot was uploaded.
func (c *Client) ProcessPhoto(ctx context.Context, req ProcessRequest) Response {
	return c.Do(ctx, http.MethodPost, PathPhotosProcess, req)
}
