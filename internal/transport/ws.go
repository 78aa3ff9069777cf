package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/styleurl/internal/message"
)

type wsChannel struct {
	name string
	conn net.Conn
	mu   sync.Mutex
}

func (c *wsChannel) Name() string { return c.name }

func (c *wsChannel) Post(_ context.Context, req message.Request) error {
	return c.write(req)
}

func (c *wsChannel) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsutil.WriteServerText(c.conn, data); err != nil {
		return fmt.Errorf("transport: write frame on %s: %w", c.name, err)
	}
	return nil
}

// ServeWS upgrades the request to a WebSocket channel registered under name
// and dispatches every JSON text frame it receives until the peer goes away.
func (a *Adapter) ServeWS(w http.ResponseWriter, r *http.Request, name string) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("channel upgrade failed", "name", name, "error", err)
		return
	}
	ch := &wsChannel{name: name, conn: conn}
	a.Open(ch)
	defer func() {
		a.Close(ch)
		_ = conn.Close()
	}()

	ctx := r.Context()
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			slog.Debug("channel read loop exit", "name", name, "error", err)
			return
		}
		if op != ws.OpText {
			continue
		}

		var req message.Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("channel frame undecodable", "name", name, "error", err)
			continue
		}

		id := req.ID
		a.Dispatch(ctx, req, func(res message.Result) {
			if res.ID == "" {
				res.ID = id
			}
			if err := ch.write(res); err != nil {
				slog.Debug("channel response write failed", "name", name, "error", err)
			}
		})
	}
}
