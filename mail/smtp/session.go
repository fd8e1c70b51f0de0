package smtp

import (
	"context"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/smtpprobe/mail"
)

const closeTimeout = 5 * time.Second

var _ mail.Session = (*Session)(nil)

// Session is an authenticated SMTP connection created by Transport.Open.
type Session struct {
	mx      sync.Mutex
	client  *smtp.Client
	raw     net.Conn
	conn    *transcriptConn
	timeout time.Duration
	domain  string
	secure  bool
	ext     map[string]string // EHLO over TLS, nil before STARTTLS
	closed  bool
}

// Send submits one message. It does not retry.
func (s *Session) Send(ctx context.Context, email mail.Email) (mail.Receipt, error) {
	ctx, span := tracer.Start(ctx, "SMTP.Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("smtp.from", email.From.Address),
		attribute.String("smtp.subject", email.Subject),
		attribute.Int("smtp.to_count", len(email.To)),
		attribute.Bool("smtp.tls", s.secure),
	)

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		span.SetStatus(codes.Error, "session is closed")
		return mail.Receipt{}, errors.New("session is closed")
	}

	from := email.From.Address
	if from == "" {
		span.SetStatus(codes.Error, "no from address")
		return mail.Receipt{}, errors.New("no from address specified")
	}

	to := getEmailAddresses(email.To)
	if len(to) == 0 {
		span.SetStatus(codes.Error, "no recipients")
		return mail.Receipt{}, errors.New("no recipients specified")
	}

	messageID := newMessageID(from, s.domain)
	msg := buildMessage(email, messageID, time.Now())

	// Check for context cancellation
	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "context canceled")
		return mail.Receipt{}, errors.WithStack(ctx.Err())
	default:
	}

	if err := s.raw.SetDeadline(ioDeadline(s.timeout)); err != nil {
		recordError(span, err, "failed to set deadline")
		return mail.Receipt{}, errors.Wrap(err, "failed to set connection deadline")
	}
	defer func() { _ = s.raw.SetDeadline(time.Time{}) }()

	stop := context.AfterFunc(ctx, func() { _ = s.raw.Close() })
	defer stop()

	if err := s.transmit(from, to, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.WithMessage(ctxErr, err.Error())
		}
		recordError(span, err, err.Error())
		return mail.Receipt{}, err
	}

	span.SetAttributes(attribute.String("smtp.message_id", messageID))
	span.SetStatus(codes.Ok, "")

	return mail.Receipt{
		MessageID: messageID,
		Envelope:  mail.Envelope{From: from, To: to},
		Accepted:  to,
		Response:  s.conn.lastReply,
	}, nil
}

func (s *Session) transmit(from string, to []string, msg []byte) error {
	if err := s.mail(from); err != nil {
		return errors.Wrap(err, "failed to set sender")
	}

	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return errors.Wrapf(err, "failed to set recipient: %s", addr)
		}
	}

	writer, err := s.client.Data()
	if err != nil {
		return errors.Wrap(err, "failed to get data writer")
	}

	if _, err := writer.Write(msg); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, "failed to write message")
	}

	// Close reads the relay's verdict on the message.
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "message rejected")
	}
	return nil
}

// mail issues MAIL FROM with the parameters the relay advertised last.
// smtp.Client.Mail would use the extensions seen before STARTTLS.
func (s *Session) mail(from string) error {
	if strings.ContainsAny(from, "\r\n") {
		return errors.New("smtp: A line must not contain CR or LF")
	}

	params := ""
	if s.extension("8BITMIME") {
		params += " BODY=8BITMIME"
	}
	if s.extension("SMTPUTF8") {
		params += " SMTPUTF8"
	}

	_, err := cmd(s.client, 250, "MAIL FROM:<%s>%s", from, params)
	return err
}

func (s *Session) extension(name string) bool {
	if s.ext != nil {
		_, ok := s.ext[name]
		return ok
	}
	ok, _ := s.client.Extension(name)
	return ok
}

// Close sends QUIT and closes the connection. It is safe to call twice.
func (s *Session) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.raw.SetDeadline(time.Now().Add(closeTimeout))
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return errors.Wrap(err, "failed to quit SMTP session")
	}
	return nil
}
