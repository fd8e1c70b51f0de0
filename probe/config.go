package probe

import (
	"time"

	"github.com/pure-golang/smtpprobe/mail"
)

const (
	Subject = "Railway Email Test"
	Body    = "If you receive this, SMTP works from Railway!"
)

// Config holds the probe inputs. Credentials are not tagged required: a
// missing value is reported by Run as a ConfigError, not by the loader.
type Config struct {
	User    string        `envconfig:"SMTP_USER"`
	Pass    string        `envconfig:"SMTP_PASS"`
	To      string        `envconfig:"TEST_TO"`
	Timeout time.Duration `envconfig:"SMTP_PROBE_TIMEOUT" default:"30s"`
}

// Validate reports a ConfigError when either credential is empty.
func (c Config) Validate() error {
	var missing []string
	if c.User == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.Pass == "" {
		missing = append(missing, "SMTP_PASS")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// Recipient is TEST_TO when set, the user otherwise. No normalization.
func (c Config) Recipient() string {
	if c.To != "" {
		return c.To
	}
	return c.User
}

func (c Config) Credentials() mail.Credentials {
	return mail.Credentials{Username: c.User, Password: c.Pass}
}

// Email builds the fixed probe message.
func (c Config) Email() mail.Email {
	return mail.Email{
		From:    mail.Address{Address: c.User},
		To:      []mail.Address{{Address: c.Recipient()}},
		Subject: Subject,
		Body:    Body,
	}
}
