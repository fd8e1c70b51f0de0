package smtp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
)

var _ mail.Transport = (*Transport)(nil)

// Transport implements mail.Transport using net/smtp.
type Transport struct {
	cfg       Config
	log       *slog.Logger
	tlsConfig *tls.Config
}

// TransportOptions contains options for creating a Transport.
type TransportOptions struct {
	// Logger receives the protocol transcript. Defaults to the logger in ctx.
	Logger *slog.Logger
	// TLSConfig is the base STARTTLS configuration. ServerName defaults to Config.Host.
	TLSConfig *tls.Config
}

// NewTransport creates a new SMTP Transport.
func NewTransport(cfg Config, options *TransportOptions) *Transport {
	t := &Transport{cfg: cfg}
	if options != nil {
		t.log = options.Logger
		t.tlsConfig = options.TLSConfig
	}
	return t
}

// Open connects to the relay, upgrades with STARTTLS and authenticates.
// ctx bounds the session setup only.
func (t *Transport) Open(ctx context.Context, creds mail.Credentials) (mail.Session, error) {
	ctx, span := tracer.Start(ctx, "SMTP.Open", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("smtp.host", t.cfg.Host),
		attribute.Int("smtp.port", t.cfg.Port),
		attribute.Bool("smtp.starttls", t.cfg.StartTLS),
		attribute.Bool("smtp.auth", creds.Username != ""),
	)

	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", t.cfg.addr())
	if err != nil {
		recordError(span, err, "failed to connect")
		return nil, errors.Wrap(err, "failed to connect to SMTP server")
	}

	if err := raw.SetDeadline(ioDeadline(t.cfg.Timeout)); err != nil {
		_ = raw.Close()
		recordError(span, err, "failed to set deadline")
		return nil, errors.Wrap(err, "failed to set connection deadline")
	}

	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	conn := newTranscriptConn(raw, t.transcriptLogger(ctx))
	conn.note("smtp connected", "address", raw.RemoteAddr().String())

	session, err := t.handshake(ctx, raw, conn, creds)
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.WithMessage(ctxErr, err.Error())
		}
		recordError(span, err, "failed to open session")
		return nil, err
	}

	if err := raw.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		recordError(span, err, "failed to reset deadline")
		return nil, errors.Wrap(err, "failed to reset connection deadline")
	}

	span.SetAttributes(attribute.Bool("smtp.tls", session.secure))
	span.SetStatus(codes.Ok, "")
	return session, nil
}

func (t *Transport) handshake(ctx context.Context, raw net.Conn, conn *transcriptConn, creds mail.Credentials) (*Session, error) {
	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read SMTP greeting")
	}

	if err := client.Hello(t.localName()); err != nil {
		return nil, errors.Wrap(err, "failed to greet SMTP server")
	}

	secure := false
	var ext map[string]string
	if t.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if ext, err = t.startTLS(ctx, client, raw, conn); err != nil {
				return nil, err
			}
			secure = true
		}
	}
	if !secure && t.cfg.RequireTLS {
		return nil, errors.New("SMTP server does not offer STARTTLS")
	}

	if creds.Username != "" {
		auth := &plainAuth{username: creds.Username, password: creds.Password, secure: secure}
		if err := client.Auth(auth); err != nil {
			return nil, errors.Wrap(err, "failed to authenticate")
		}
	}

	return &Session{
		client:  client,
		raw:     raw,
		conn:    conn,
		timeout: t.cfg.Timeout,
		domain:  t.localName(),
		secure:  secure,
		ext:     ext,
	}, nil
}

// startTLS upgrades the raw socket below the transcript connection, so the
// smtp.Client keeps using the same textproto pipeline. It returns the
// extensions advertised by the EHLO sent over TLS.
func (t *Transport) startTLS(ctx context.Context, client *smtp.Client, raw net.Conn, conn *transcriptConn) (map[string]string, error) {
	if _, err := cmd(client, 220, "STARTTLS"); err != nil {
		return nil, errors.Wrap(err, "failed to start TLS")
	}

	// Anything already buffered arrived in plaintext and must not be read
	// as a reply over TLS.
	if client.Text.R.Buffered() > 0 {
		return nil, errors.New("unexpected data after STARTTLS response")
	}

	tlsConn := tls.Client(raw, t.clientTLSConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrap(err, "TLS handshake failed")
	}
	conn.upgrade(tlsConn)

	state := tlsConn.ConnectionState()
	conn.note("smtp tls established",
		"version", tls.VersionName(state.Version),
		"cipher", tls.CipherSuiteName(state.CipherSuite),
	)

	// Knowledge obtained before TLS is discarded, greet again (RFC 3207).
	msg, err := cmd(client, 250, "EHLO %s", t.localName())
	if err != nil {
		return nil, errors.Wrap(err, "failed to greet SMTP server after STARTTLS")
	}
	return parseExtensions(msg), nil
}

func (t *Transport) clientTLSConfig() *tls.Config {
	var cfg *tls.Config
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.cfg.Host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

func (t *Transport) transcriptLogger(ctx context.Context) *slog.Logger {
	if !t.cfg.Debug {
		return nil
	}
	if t.log != nil {
		return t.log
	}
	return logger.FromContext(ctx)
}

func (t *Transport) localName() string {
	if t.cfg.LocalName == "" {
		return "localhost"
	}
	return t.cfg.LocalName
}

// cmd runs one command on the client's textproto pipeline.
func cmd(client *smtp.Client, expectCode int, format string, args ...any) (string, error) {
	id, err := client.Text.Cmd(format, args...)
	if err != nil {
		return "", err
	}
	client.Text.StartResponse(id)
	defer client.Text.EndResponse(id)
	_, msg, err := client.Text.ReadResponse(expectCode)
	return msg, err
}

// parseExtensions reads an EHLO reply the way smtp.Client does: the first
// line is the greeting, each further line a keyword with optional params.
func parseExtensions(msg string) map[string]string {
	ext := make(map[string]string)
	lines := strings.Split(msg, "\n")
	for _, line := range lines[1:] {
		keyword, params, _ := strings.Cut(line, " ")
		ext[strings.ToUpper(keyword)] = params
	}
	return ext
}

// ioDeadline bounds socket I/O against a stalled relay. Context cancellation
// is handled separately by closing the socket, so ctx.Err() is already set
// when the pending call fails.
func ioDeadline(timeout time.Duration) time.Time {
	if timeout > 0 {
		return time.Now().Add(timeout)
	}
	return time.Time{}
}
