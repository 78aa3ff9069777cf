// Package host is the browser the agent serves: it resolves tabs, captures
// their visible surface and opens new views.
package host

import (
	"context"
	"errors"
)

// ErrTabNotFound is returned for tab ids that do not map to an open page.
var ErrTabNotFound = errors.New("host: tab not found")

// Tab describes an open page.
type Tab struct {
	ID       int    `json:"id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Platform is the subset of browser operations the upload workflow needs.
type Platform interface {
	Tab(ctx context.Context, id int) (Tab, error)
	Tabs(ctx context.Context) ([]Tab, error)
	// CaptureVisible returns a PNG of the tab's visible surface. A nil
	// image with a nil error means nothing was captured.
	CaptureVisible(ctx context.Context, id int) ([]byte, error)
	OpenView(ctx context.Context, url string) error
}
