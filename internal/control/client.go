package control

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/ipc"
	"go.klb.dev/clipvault/internal/message"
	"go.klb.dev/clipvault/internal/wire"
)

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 10 * time.Second

// Client talks to a daemon over the IPC socket.
type Client struct {
	// Dial opens a connection to the daemon. Defaults to ipc.Dial.
	Dial    func() (net.Conn, error)
	Timeout time.Duration
}

// NewClient returns a Client using the default IPC socket.
func NewClient() *Client {
	return &Client{Dial: ipc.Dial, Timeout: DefaultTimeout}
}

func (c *Client) dial(ctx context.Context) (*wire.Conn, error) {
	dial := c.Dial
	if dial == nil {
		dial = ipc.Dial
	}
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("connecting to clipvault daemon (is `clipvault serve` running?): %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	return wire.New(conn), nil
}

// Call sends req and returns the daemon's response. ERROR responses are
// returned as *message.ResponseError.
func (c *Client) Call(ctx context.Context, req *message.Message) (*message.Message, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	resp, err := conn.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Watch streams history events to fn until ctx is cancelled or the daemon
// closes the connection.
func (c *Client) Watch(ctx context.Context, fn func(events.Event)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteMsg(&message.Message{Type: message.TypeWatch}); err != nil {
		return fmt.Errorf("sending watch request: %w", err)
	}
	ack, err := conn.ReadMsg()
	if err != nil {
		return fmt.Errorf("reading watch ack: %w", err)
	}
	if err := ack.Err(); err != nil {
		return err
	}

	for {
		m, err := conn.ReadMsg()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch stream: %w", err)
		}
		if m.Type == message.TypeEvent && m.Event != nil {
			fn(*m.Event)
		}
	}
}
