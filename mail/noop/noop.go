package noop

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pure-golang/smtpprobe/mail"
)

var (
	_ mail.Transport = (*Transport)(nil)
	_ mail.Session   = (*Session)(nil)
)

// Transport opens sessions that accept every message without network I/O.
type Transport struct{}

// NewTransport creates a new no-op Transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Open returns a new no-op Session.
func (*Transport) Open(_ context.Context, _ mail.Credentials) (mail.Session, error) {
	return &Session{}, nil
}

// Session discards messages and returns synthetic receipts.
type Session struct {
	mx     sync.Mutex
	closed bool
}

// Send discards the email.
func (s *Session) Send(_ context.Context, email mail.Email) (mail.Receipt, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return mail.Receipt{}, errors.New("session is closed")
	}

	to := make([]string, 0, len(email.To))
	for _, addr := range email.To {
		to = append(to, addr.Address)
	}

	return mail.Receipt{
		MessageID: "<" + uuid.NewString() + "@noop>",
		Envelope:  mail.Envelope{From: email.From.Address, To: to},
		Accepted:  to,
		Response:  "250 noop",
	}, nil
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true
	return nil
}
