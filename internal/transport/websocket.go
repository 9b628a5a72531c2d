package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/miniapp-host/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 1 << 20
)

// WSPipe is a Pipe over one websocket connection. Text frames carry bridge
// messages; script injections travel as inject frames on the same socket.
type WSPipe struct {
	conn *websocket.Conn

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSPipe wraps an established connection.
func NewWSPipe(conn *websocket.Conn) *WSPipe {
	conn.SetReadLimit(maxFrameSize)
	return &WSPipe{conn: conn, done: make(chan struct{})}
}

// Send writes one text frame.
func (p *WSPipe) Send(frame string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// InjectScript asks the remote content runtime to evaluate script.
func (p *WSPipe) InjectScript(script string) error {
	frame, err := protocol.Encode(protocol.Inject{Type: protocol.TypeInject, Script: script})
	if err != nil {
		return err
	}
	return p.Send(frame)
}

// ReadLoop passes every text frame to deliver until the connection closes or
// ctx is done. A normal close returns nil.
func (p *WSPipe) ReadLoop(ctx context.Context, deliver func(string)) error {
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-p.done:
		}
	}()

	for {
		kind, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || p.isDone() {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		deliver(string(message))
	}
}

// KeepAlive pings the peer until the pipe closes.
func (p *WSPipe) KeepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			p.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *WSPipe) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame and shuts the connection. Safe to call twice.
func (p *WSPipe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		p.mu.Unlock()
		err = p.conn.Close()
	})
	return err
}
