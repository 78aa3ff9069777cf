// Package engine drives the upload workflow: resolve the tab, submit its
// stylesheets, capture a screenshot, upload it and have the backend process
// it. All workflow state is owned by a single event loop; every blocking
// step runs in its own goroutine and reports back to the loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/dgnsrekt/styleurl/internal/backend"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/metrics"
	"github.com/dgnsrekt/styleurl/internal/notify"
	"github.com/dgnsrekt/styleurl/internal/registry"
	"github.com/dgnsrekt/styleurl/internal/transport"
	"github.com/dgnsrekt/styleurl/internal/upload"
)

const (
	// ScreenshotName is the object name the screenshot is signed under.
	ScreenshotName = "photo.png"
	// ScreenshotContentType is sent to the signer, the storage PUT and the
	// processing call.
	ScreenshotContentType = "image/png"

	eventBufSize = 64
)

// ErrStopped is returned when the event loop is no longer running.
var ErrStopped = errors.New("engine: stopped")

// Backend is the remote API used by the workflow.
type Backend interface {
	SubmitStylesheets(ctx context.Context, pageURL string, stylesheets []message.Stylesheet) message.StylesheetGroupResult
	ProcessPhoto(ctx context.Context, req backend.ProcessRequest) backend.Response
	FetchText(ctx context.Context, rawURL string) (string, error)
}

// Uploader starts object-storage uploads.
type Uploader interface {
	Start(ctx context.Context, payload []byte, file upload.File, opts upload.Options, onFinish func(upload.Result), onError func(error)) *upload.Handle
}

// Options wires an Engine to its collaborators.
type Options struct {
	Backend  Backend
	Uploader Uploader
	Host     host.Platform
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	// OnTerminal, when set, is called on the event loop for every workflow
	// that reaches a terminal state. It must not block.
	OnTerminal func(Workflow)
	Now        func() time.Time
}

// Engine is the upload orchestration engine.
type Engine struct {
	backend    Backend
	uploader   Uploader
	host       host.Platform
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	onTerminal func(Workflow)
	now        func() time.Time

	events  chan func()
	stopped chan struct{}

	// Loop-owned.
	runCtx    context.Context
	workflows map[string]*Workflow
	uploads   *registry.Registry[*inflight]
}

// inflight is the registry entry of one screenshot upload. It is registered
// before the upload starts; handle is set once it has.
type inflight struct {
	handle *upload.Handle
}

// New creates an Engine. Call Run to start its event loop.
func New(opts Options) *Engine {
	n := opts.Notifier
	if n == nil {
		n = notify.Log{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		backend:    opts.Backend,
		uploader:   opts.Uploader,
		host:       opts.Host,
		notifier:   n,
		metrics:    opts.Metrics,
		onTerminal: opts.OnTerminal,
		now:        now,
		events:     make(chan func(), eventBufSize),
		stopped:    make(chan struct{}),
		workflows:  make(map[string]*Workflow),
		uploads:    registry.New[*inflight](),
	}
}

// Run processes events until ctx is done. In-flight workflows stay suspended
// when it returns.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	defer close(e.stopped)
	slog.Info("engine started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped", "in_flight", len(e.workflows), "uploads", e.uploads.Len())
			return nil
		case ev := <-e.events:
			ev()
		}
	}
}

func (e *Engine) post(ev func()) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.stopped:
		return false
	}
}

// async runs fn off the loop with the engine's run context.
func (e *Engine) async(fn func(ctx context.Context)) {
	ctx := e.runCtx
	go fn(ctx)
}

// Handle implements transport.Handler.
func (e *Engine) Handle(ctx context.Context, req message.Request, respond transport.Responder) bool {
	switch req.Type {
	case message.TypeGetGistContent:
		return e.fetchContent(ctx, req, respond)
	case message.TypeGetStylesDiff:
		if !e.post(func() { e.start(req) }) {
			slog.Warn("engine stopped, dropping stylesheet submission", "tab_id", req.TabID)
		}
		return false
	default:
		return false
	}
}

// Workflows returns a snapshot of the in-flight workflows, oldest first.
func (e *Engine) Workflows(ctx context.Context) ([]Workflow, error) {
	reply := make(chan []Workflow, 1)
	if !e.post(func() {
		out := make([]Workflow, 0, len(e.workflows))
		for _, wf := range e.workflows {
			out = append(out, *wf)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
		reply <- out
	}) {
		return nil, ErrStopped
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrStopped
	}
}

// UploadInFlight reports whether an upload is registered for the artifact key.
func (e *Engine) UploadInFlight(key string) bool {
	return e.uploads.Has(key)
}

// UploadsInFlight returns the number of registered uploads.
func (e *Engine) UploadsInFlight() int {
	return e.uploads.Len()
}
