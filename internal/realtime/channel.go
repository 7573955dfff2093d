package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrChannelClosed is returned by Read once the peer or the server closed the channel.
var ErrChannelClosed = errors.New("realtime: channel closed")

// FrameKind distinguishes text and binary frames.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one inbound message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Channel is a bidirectional message connection to one client.
//
// Read is called from a single goroutine. Send and Close may be called
// concurrently with each other and with Read.
type Channel interface {
	Read(ctx context.Context) (Frame, error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// WSOptions tunes a WSChannel.
type WSOptions struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func (o WSOptions) withDefaults() WSOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	return o
}

// WSChannel is a Channel over a gorilla websocket connection. It keeps the
// connection alive with pings and drops it when pongs stop arriving.
type WSChannel struct {
	conn *websocket.Conn
	opts WSOptions

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel wraps an upgraded connection and starts its keepalive.
func NewWSChannel(conn *websocket.Conn, opts WSOptions) *WSChannel {
	opts = opts.withDefaults()
	c := &WSChannel{conn: conn, opts: opts, done: make(chan struct{})}

	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	pongWait := 2*opts.PingInterval + opts.WriteTimeout
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()
	return c
}

func (c *WSChannel) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Read blocks for the next frame. Cancelling ctx does not interrupt a pending
// read; Close does.
func (c *WSChannel) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return Frame{}, ErrChannelClosed
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Frame{}, ErrChannelClosed
		}
		return Frame{}, err
	}
	kind := FrameText
	if mt == websocket.BinaryMessage {
		kind = FrameBinary
	}
	return Frame{Kind: kind, Data: data}, nil
}

// Send writes one text frame, bounded by the write timeout and ctx's deadline.
func (c *WSChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the connection. It is idempotent.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteTimeout))
		err = c.conn.Close()
	})
	return err
}
