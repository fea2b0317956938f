package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// wsFrameConn adapts a WebSocket connection to FrameConn. One text message
// carries exactly one envelope; WebSocket framing replaces the newline
// delimiter of the raw TCP transport.
type wsFrameConn struct {
	conn *websocket.Conn
}

func (c *wsFrameConn) ReadFrame() (protocol.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(bytes.TrimSuffix(data, []byte{'\n'}), &env); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrParse, err)
	}
	return env, nil
}

func (c *wsFrameConn) WriteRaw(frame []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte{'\n'}))
}

func (c *wsFrameConn) Close() error { return c.conn.Close() }

func (c *wsFrameConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WSHandler returns the HTTP handler that upgrades to WebSocket and serves
// the connection with the same session engine as the TCP listener. ctx is
// the server lifecycle context; its cancellation closes live sockets.
func (r *Relay) WSHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		r.ServeConn(ctx, &wsFrameConn{conn: conn})
	})
}
