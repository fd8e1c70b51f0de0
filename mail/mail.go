package mail

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Transport opens authenticated sessions to a mail relay.
type Transport interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one open connection to a relay.
// It must be closed by the caller whatever the outcome of Send.
type Session interface {
	Send(ctx context.Context, email Email) (Receipt, error)
	io.Closer
}

// Credentials are used for SMTP AUTH. Empty Username disables authentication.
type Credentials struct {
	Username string
	Password string
}

// Email represents an email message.
type Email struct {
	// Envelope
	From    Address
	To      []Address
	Subject string

	// Headers
	Headers map[string]string

	// Body
	Body string // Plain text body
}

// Address represents an email address.
type Address struct {
	Name    string // "John Doe"
	Address string // "john@example.com"
}

// Receipt describes a message accepted by the relay.
type Receipt struct {
	MessageID string
	Envelope  Envelope
	Accepted  []string
	// Response is the relay's final reply to the message data, e.g. "250 2.0.0 OK".
	Response string
}

// Envelope is the SMTP envelope actually used for delivery.
type Envelope struct {
	From string
	To   []string
}

func (r Receipt) String() string {
	return fmt.Sprintf("messageId=%s envelope={from=%s to=[%s]} accepted=[%s] response=%q",
		r.MessageID,
		r.Envelope.From,
		strings.Join(r.Envelope.To, ", "),
		strings.Join(r.Accepted, ", "),
		r.Response,
	)
}
