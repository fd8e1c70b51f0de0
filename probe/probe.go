package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail"
)

// Run validates cfg, sends the probe message once through transport and
// writes one outcome line: the receipt to stdout, or the diagnostic to
// stderr. The session is always closed. Nothing is retried.
func Run(ctx context.Context, cfg Config, transport mail.Transport, stdout, stderr io.Writer) Outcome {
	ctx, span := tracer.Start(ctx, "probe.Run")
	defer span.End()

	started := time.Now()
	outcome := run(ctx, cfg, transport, stdout, stderr)
	recordOutcome(outcome.Status, time.Since(started), time.Now())

	span.SetAttributes(attribute.String("probe.status", string(outcome.Status)))
	if outcome.Err != nil {
		recordError(span, outcome.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return outcome
}

func run(ctx context.Context, cfg Config, transport mail.Transport, stdout, stderr io.Writer) Outcome {
	log := logger.FromContext(ctx)

	if err := cfg.Validate(); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			log.Error("probe not configured", slog.String("missing", cfgErr.Detail()))
		}
		fmt.Fprintln(stderr, err.Error())
		return Outcome{Status: StatusConfigError, Err: err}
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	email := cfg.Email()
	log.Info("sending probe email", slog.String("from", cfg.User), slog.String("to", cfg.Recipient()))

	session, err := transport.Open(ctx, cfg.Credentials())
	if err != nil {
		return fail(ctx, &TransportError{Phase: "open", Err: err}, stderr)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.FromContextWithErr(ctx, err).Warn("failed to close SMTP session")
		}
	}()

	receipt, err := session.Send(ctx, email)
	if err != nil {
		return fail(ctx, &TransportError{Phase: "send", Err: err}, stderr)
	}

	log.Info("probe email sent", slog.String("message_id", receipt.MessageID))
	fmt.Fprintf(stdout, "Email sent successfully: %s\n", receipt)

	return Outcome{Status: StatusSuccess, Receipt: receipt}
}

func fail(ctx context.Context, err *TransportError, stderr io.Writer) Outcome {
	logger.FromContextWithErr(ctx, err.Err).Error("probe failed", slog.String("phase", err.Phase))
	fmt.Fprintf(stderr, "Email send error: %s\n", err)

	return Outcome{Status: StatusFailure, Err: err}
}
