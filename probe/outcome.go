package probe

import "github.com/pure-golang/smtpprobe/mail"

type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusConfigError Status = "config_error"
)

// Outcome is the result of one Run.
type Outcome struct {
	Status  Status
	Receipt mail.Receipt // set on StatusSuccess
	Err     error        // *ConfigError or *TransportError otherwise
}

// ExitCode maps the outcome to a process exit status.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case StatusSuccess:
		return 0
	case StatusConfigError:
		return 2
	default:
		return 1
	}
}
