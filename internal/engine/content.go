package engine

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/transport"
)

// fetchContent answers a get_gist_content request. It keeps no state: each
// request is one independent fetch.
func (e *Engine) fetchContent(ctx context.Context, req message.Request, respond transport.Responder) bool {
	if req.URL == "" {
		slog.Error("invalid get_gist_content: missing url")
		respond(message.Failure())
		return true
	}

	go func() {
		content, err := e.backend.FetchText(ctx, req.URL)
		if err != nil {
			slog.Error("content fetch failed", "url", req.URL, "error", err)
			respond(message.Failure())
			return
		}
		respond(message.Result{
			Success:  true,
			Type:     message.TypeGetGistContent,
			URL:      req.URL,
			Response: true,
			Content:  content,
		})
	}()
	return true
}
