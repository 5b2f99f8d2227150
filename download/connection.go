package download

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"
)

// Connection is a live HTTP/1.1 connection to an Endpoint. It owns its
// socket exclusively while held by a worker; ownership transfers back to
// the ConnectionPool on Release.
type Connection struct {
	Endpoint Endpoint
	conn     net.Conn
	reader   *bufio.Reader
}

func newConnection(ep Endpoint, conn net.Conn) *Connection {
	return &Connection{
		Endpoint: ep,
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, 4096),
	}
}

// hasUnexpectedData reports whether the peer has pushed bytes onto this
// connection outside of a request/response cycle, which signals a
// half-closed or pipelining-violating peer that should not be handed
// back out of the pool. A zero-length, near-instant read deadline makes
// this a non-blocking peek.
func (c *Connection) hasUnexpectedData() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.conn.SetReadDeadline(time.Time{})

	_, err := c.reader.Peek(1)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	ne, ok := err.(net.Error)
	return ok && !ne.Timeout()
}

// Close tears down the underlying socket. Once closed a Connection must
// never be returned to the pool.
func (c *Connection) Close() error {
	return c.conn.Close()
}
