package probe

import "strings"

// ConfigError means a required credential is missing. No network I/O
// happens after it.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "SMTP_USER or SMTP_PASS not set"
}

// Detail names the missing variables, for logs.
func (e *ConfigError) Detail() string {
	return strings.Join(e.Missing, ", ")
}

// TransportError wraps any failure while opening the session or sending.
// The message is the underlying diagnostic.
type TransportError struct {
	Phase string // "open" or "send"
	Err   error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause from github.com/pkg/errors walk through.
func (e *TransportError) Cause() error {
	return e.Err
}
