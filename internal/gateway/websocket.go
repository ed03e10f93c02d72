// ABOUTME: WebSocket endpoint adapting gorilla/websocket connections to stream sessions
// ABOUTME: One reader goroutine feeds frames to the session; the idle deadline pauses during generations

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/campaign-gateway/internal/stream"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn implements stream.Conn over a gorilla connection.
// gorilla allows one concurrent writer, so writes are serialized.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// Send writes ev as a JSON text frame
func (c *wsConn) Send(ctx context.Context, ev stream.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stream.ErrClosed
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// Close sends a close frame with code and reason, then closes the socket.
// Closing twice is a no-op.
func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	return c.conn.Close()
}

func (g *Gateway) trackStream(c *wsConn) {
	g.streamsMu.Lock()
	defer g.streamsMu.Unlock()
	g.streams[c] = struct{}{}
}

func (g *Gateway) untrackStream(c *wsConn) {
	g.streamsMu.Lock()
	defer g.streamsMu.Unlock()
	delete(g.streams, c)
}

// closeStreams closes every open WebSocket with 1001 (going away)
func (g *Gateway) closeStreams() {
	g.streamsMu.Lock()
	conns := make([]*wsConn, 0, len(g.streams))
	for c := range g.streams {
		conns = append(conns, c)
	}
	g.streamsMu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// idleDeadline owns the socket's read deadline. While a generation is in
// flight there is no deadline; otherwise reads must arrive within idle.
type idleDeadline struct {
	conn *websocket.Conn
	idle time.Duration

	mu   sync.Mutex
	busy bool
}

func (d *idleDeadline) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyLocked()
}

func (d *idleDeadline) setBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
	d.applyLocked()
}

func (d *idleDeadline) applyLocked() {
	if d.idle <= 0 {
		return
	}
	if d.busy {
		_ = d.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = d.conn.SetReadDeadline(time.Now().Add(d.idle))
}

// handleWebSocket upgrades without authentication; the session's auth
// message does that.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected WebSocket", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wc := newWSConn(conn)
	g.trackStream(wc)
	defer g.untrackStream(wc)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	deadline := &idleDeadline{conn: conn, idle: g.config.Stream.IdleTimeout}

	// A dead socket cancels the session so queued or running work stops.
	in := make(chan []byte)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		defer close(in)
		g.readFrames(ctx, conn, deadline, in)
	}()

	logger := g.logger.With("remote_addr", r.RemoteAddr)
	logger.Debug("websocket connected")

	sess := stream.NewSession(wc, g.gate, g.pipeline.Stages())
	sess.OnBusy(deadline.setBusy)
	if err := sess.Run(ctx, in); err != nil && ctx.Err() == nil {
		logger.Warn("websocket session ended with error", "error", err)
	}

	cancel()
	_ = wc.Close(websocket.CloseNormalClosure, "")
	<-readerDone
	logger.Debug("websocket closed", "state", sess.State().String())
}

// readFrames forwards text and binary frames to in until the socket fails or
// ctx ends. Every frame and pong re-arms the idle deadline.
func (g *Gateway) readFrames(ctx context.Context, conn *websocket.Conn, deadline *idleDeadline, in chan<- []byte) {
	conn.SetReadLimit(wsMaxMessageSize)

	deadline.touch()
	conn.SetPongHandler(func(string) error {
		deadline.touch()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		deadline.touch()

		select {
		case in <- data:
		case <-ctx.Done():
			return
		}
	}
}
