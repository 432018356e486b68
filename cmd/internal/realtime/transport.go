package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wsTransport adapts a *websocket.Conn to Transport.
// coder/websocket allows concurrent writers, so no extra lock is needed for writes.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) WriteBinary(ctx context.Context, b []byte) error {
	return t.write(ctx, websocket.MessageBinary, b)
}

func (t *wsTransport) WriteText(ctx context.Context, s string) error {
	return t.write(ctx, websocket.MessageText, []byte(s))
}

func (t *wsTransport) write(parent context.Context, typ websocket.MessageType, b []byte) error {
	ctx, cancel := context.WithTimeout(parent, t.writeTimeout)
	defer cancel()
	return t.conn.Write(ctx, typ, b)
}

// Ping needs a concurrent reader to observe the pong; the message loop is that reader.
func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(reason string) error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close(websocket.StatusGoingAway, reason)
	})
	return err
}
