package smtp

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
)

const maskedSecret = "/* secret */"

// transcriptConn logs the SMTP dialogue line by line and remembers the last
// reply line read from the relay. The underlying connection can be swapped
// for its TLS upgrade, so the transcript stays readable after STARTTLS.
type transcriptConn struct {
	net.Conn
	log *slog.Logger // nil disables logging

	in, out   []byte // partial lines
	lastReply string
	challenge bool // relay sent 334, next client line carries credentials
}

func newTranscriptConn(conn net.Conn, log *slog.Logger) *transcriptConn {
	return &transcriptConn{Conn: conn, log: log}
}

func (c *transcriptConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.in = splitLines(c.in, p[:n], c.serverLine)
	}
	return n, err
}

func (c *transcriptConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.out = splitLines(c.out, p[:n], c.clientLine)
	}
	return n, err
}

// upgrade replaces the plaintext connection with its TLS wrapper.
func (c *transcriptConn) upgrade(conn net.Conn) {
	c.Conn = conn
	c.in, c.out = nil, nil
}

func (c *transcriptConn) serverLine(line string) {
	c.lastReply = line
	c.challenge = strings.HasPrefix(line, "334")
	c.emit("S: " + line)
}

func (c *transcriptConn) clientLine(line string) {
	switch {
	case c.challenge:
		line = maskedSecret
		c.challenge = false
	case strings.HasPrefix(strings.ToUpper(line), "AUTH "):
		fields := strings.Fields(line)
		if len(fields) > 2 {
			line = fields[0] + " " + fields[1] + " " + maskedSecret
		}
	}
	c.emit("C: " + line)
}

func (c *transcriptConn) note(msg string, args ...any) {
	if c.log != nil {
		c.log.Info(msg, args...)
	}
}

func (c *transcriptConn) emit(line string) {
	if c.log != nil {
		c.log.Info("smtp", slog.String("line", line))
	}
}

func splitLines(buf, p []byte, emit func(string)) []byte {
	buf = append(buf, p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return buf
		}
		emit(strings.TrimRight(string(buf[:i]), "\r"))
		buf = buf[i+1:]
	}
}
