package relay

import (
	"net"

	"github.com/bbqsrc/robust/pkg/protocol"
)

// tcpFrameConn adapts a raw stream connection to FrameConn using the
// newline-delimited codec.
type tcpFrameConn struct {
	conn net.Conn
	dec  *protocol.Decoder
}

// NewTCPFrameConn wraps conn, plain or TLS, as a FrameConn.
func NewTCPFrameConn(conn net.Conn) FrameConn {
	return &tcpFrameConn{conn: conn, dec: protocol.NewDecoder(conn)}
}

func (c *tcpFrameConn) ReadFrame() (protocol.Envelope, error) {
	return c.dec.Next()
}

func (c *tcpFrameConn) WriteRaw(frame []byte) error {
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpFrameConn) Close() error { return c.conn.Close() }

func (c *tcpFrameConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
