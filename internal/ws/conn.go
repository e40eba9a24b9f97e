package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used when the service terminates a socket.
const (
	CloseNormal           = websocket.CloseNormalClosure
	ClosePolicyViolation  = websocket.ClosePolicyViolation
	CloseAccountSuspended = 4003
)

const ReasonAccountSuspended = "ACCOUNT_SUSPENDED"

var errSocketClosed = errors.New("socket is closed")

// Socket is the surface the session layer needs from a live connection.
// Implementations must make WriteJSON on a closed socket a harmless error,
// never a panic.
type Socket interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// SocketInfo is the metadata tracked per registered socket.
type SocketInfo struct {
	ConnID        string
	SessionID     string
	UserID        string
	RemoteAddr    string
	Version       string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// conn wraps a gorilla connection with serialized writes and an open flag.
// The flag is the ready-state guard: once the socket is closed every further
// send is a no-op.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewSocket wraps an upgraded gorilla connection.
func NewSocket(wsConn *websocket.Conn) Socket {
	return &conn{ws: wsConn}
}

func (c *conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errSocketClosed
	}
	if err := c.ws.WriteJSON(v); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close sends a close frame with the given code and tears the connection down.
// Closing twice is harmless.
func (c *conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// IsClosedSend reports whether the error came from the ready-state guard
// rather than a transport failure.
func IsClosedSend(err error) bool {
	return errors.Is(err, errSocketClosed)
}
