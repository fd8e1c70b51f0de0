package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pure-golang/smtpprobe/env"
	"github.com/pure-golang/smtpprobe/logger"
	"github.com/pure-golang/smtpprobe/mail/smtp"
	"github.com/pure-golang/smtpprobe/metrics"
	"github.com/pure-golang/smtpprobe/probe"
	"github.com/pure-golang/smtpprobe/tracing"
	"github.com/pure-golang/smtpprobe/tracing/otlp"
)

var version = "dev"

// exitCodeError carries the probe's exit status through cobra.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	var code exitCodeError
	if errors.As(err, &code) {
		return int(code)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smtp-probe",
		Short: "Send one test email through an SMTP relay",
		Long: `smtp-probe checks that a relay accepts mail from this host.

It reads SMTP_USER, SMTP_PASS and optionally TEST_TO from the environment
(or a .env file), sends one fixed message and prints the delivery receipt.
Exit status is 0 on success, 1 on a transport failure and 2 when
credentials are missing.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := run(cmd.Context(), stdout, stderr); code != 0 {
				return exitCodeError(code)
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	return cmd
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	var (
		probeCfg   probe.Config
		smtpCfg    smtp.Config
		logCfg     logger.Config
		tracingCfg otlp.Config
		metricsCfg metrics.Config
	)
	if err := env.InitConfig(&probeCfg, &smtpCfg, &logCfg, &tracingCfg, &metricsCfg); err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return probe.Outcome{Status: probe.StatusConfigError}.ExitCode()
	}

	log := logger.InitDefault(logCfg, stderr)
	ctx = logger.NewContext(ctx, log)

	provider, err := tracing.Init(otlp.NewProviderBuilder(tracingCfg))
	if err != nil {
		logger.WithErr(err).Warn("tracing disabled")
	}
	defer closeOrWarn(provider, "failed to close tracing")

	m, err := metrics.InitDefault(metricsCfg)
	if err != nil {
		logger.WithErr(err).Warn("metrics disabled")
	} else {
		defer closeOrWarn(m, "failed to close metrics")
		if err := m.Register(probe.Collectors()...); err != nil {
			logger.WithErr(err).Warn("failed to register probe metrics")
		}
	}

	transport := smtp.NewTransport(smtpCfg, &smtp.TransportOptions{Logger: log})
	outcome := probe.Run(ctx, probeCfg, transport, stdout, stderr)

	if m != nil {
		// ctx may be cancelled by a signal, the push still reports the run.
		if err := m.Push(context.WithoutCancel(ctx)); err != nil {
			logger.WithErr(err).Warn("failed to push metrics")
		}
	}

	return outcome.ExitCode()
}

// closeOrWarn closes c and logs a failure, shutdown errors do not change
// the exit status.
func closeOrWarn(c io.Closer, msg string) {
	if err := c.Close(); err != nil {
		logger.WithErr(err).Warn(msg)
	}
}
