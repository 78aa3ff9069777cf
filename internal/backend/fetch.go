package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchText GETs rawURL with the browser's cookies, following redirects, and
// returns the body as text. The status code is not inspected.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("backend: fetch %s: %w", rawURL, err)
	}
	c.attachCookies(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("backend: fetch %s: read body: %w", rawURL, err)
	}
	return string(data), nil
}
