package ipc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
)

// Client is a greeter-side connection to the session daemon. The protocol
// is strictly request/reply, so a mutex serializing roundtrips is all the
// coordination needed.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon at the given socket path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to session daemon: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection. Useful for tests that drive
// the daemon over an in-memory pipe.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Roundtrip sends one request and waits for its response.
func (c *Client) Roundtrip(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := Write(c.conn, req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	resp, err := ReadResponse(c.r)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// CreateSession begins a login for the given user.
func (c *Client) CreateSession(username string) (Response, error) {
	return c.Roundtrip(Request{Command: CmdCreateSession, Username: username})
}

// PostAuthResponse answers the pending authentication prompt; nil cancels.
func (c *Client) PostAuthResponse(response *string) (Response, error) {
	return c.Roundtrip(Request{Command: CmdPostAuthResponse, Response: response})
}

// StartSession launches the authenticated session.
func (c *Client) StartSession(cmd, env []string, vt int) (Response, error) {
	return c.Roundtrip(Request{Command: CmdStartSession, Cmd: cmd, Env: env, VT: vt})
}

// CancelSession aborts the login in progress.
func (c *Client) CancelSession() (Response, error) {
	return c.Roundtrip(Request{Command: CmdCancelSession})
}
