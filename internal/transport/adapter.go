// Package transport normalizes inbound front-end messages, whether they
// arrive on a per-origin channel or as one-shot broadcasts, into a single
// request stream with a response callback.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/metrics"
	"github.com/dgnsrekt/styleurl/internal/notify"
)

// ErrChannelUnavailable is returned when an origin has no open channel.
var ErrChannelUnavailable = errors.New("transport: no channel open for origin")

// Responder delivers the result of a request to its sender.
type Responder func(message.Result)

// Handler consumes normalized requests. A true return means the response
// will be delivered later through respond, possibly from another goroutine.
type Handler interface {
	Handle(ctx context.Context, req message.Request, respond Responder) (pending bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req message.Request, respond Responder) bool

func (f HandlerFunc) Handle(ctx context.Context, req message.Request, respond Responder) bool {
	return f(ctx, req, respond)
}

// Channel is a long-lived connection to one front-end origin.
type Channel interface {
	Name() string
	Post(ctx context.Context, req message.Request) error
}

// Adapter routes inbound requests to a Handler and keeps the channel map
// used to push requests to front ends.
type Adapter struct {
	handler  Handler
	notifier notify.Notifier
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewAdapter creates an Adapter.
func NewAdapter(h Handler, n notify.Notifier, m *metrics.Metrics) *Adapter {
	if n == nil {
		n = notify.Log{}
	}
	return &Adapter{
		handler:  h,
		notifier: n,
		metrics:  m,
		channels: make(map[string]Channel),
	}
}

// Open stores ch under its name. A newer channel with the same name
// replaces the older one.
func (a *Adapter) Open(ch Channel) {
	a.mu.Lock()
	a.channels[ch.Name()] = ch
	a.mu.Unlock()
	slog.Info("channel opened", "name", ch.Name())
}

// Close removes ch if it is still the channel stored under its name.
func (a *Adapter) Close(ch Channel) {
	a.mu.Lock()
	if cur, ok := a.channels[ch.Name()]; ok && cur == ch {
		delete(a.channels, ch.Name())
	}
	a.mu.Unlock()
	slog.Info("channel closed", "name", ch.Name())
}

// Channel returns the open channel for name.
func (a *Adapter) Channel(name string) (Channel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ch, ok := a.channels[name]
	return ch, ok
}

// Dispatch validates req and forwards it to the handler. Requests without a
// recognised type are logged and dropped: no response, no side effect.
// respond may be nil for fire-and-forget messages; it is invoked at most once.
func (a *Adapter) Dispatch(ctx context.Context, req message.Request, respond Responder) (pending bool) {
	if !req.Type.Valid() {
		slog.Error("request type must be one of", "types", message.Types(), "type", string(req.Type))
		a.metrics.MessageRejected()
		return false
	}
	slog.Debug("request received", "type", string(req.Type), "tab_id", req.TabID, "response", req.Response)
	return a.handler.Handle(ctx, req, once(respond))
}

// Initiate asks the front end of tabID to send its stylesheets. When the tab
// has no channel the user is alerted and nothing else happens.
func (a *Adapter) Initiate(ctx context.Context, tabID int) error {
	name := message.PortName(tabID)
	ch, ok := a.Channel(name)
	if !ok {
		slog.Warn("no channel for tab", "tab_id", tabID, "name", name)
		a.notifier.Alert(ctx, notify.MsgOpenDevtools)
		return ErrChannelUnavailable
	}
	return ch.Post(ctx, message.Request{Type: message.TypeGetStylesDiff, TabID: tabID})
}

func once(respond Responder) Responder {
	if respond == nil {
		return func(message.Result) {}
	}
	var o sync.Once
	return func(res message.Result) {
		o.Do(func() { respond(res) })
	}
}
