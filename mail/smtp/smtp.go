package smtp

import (
	"fmt"
	"time"
)

const DefaultHost = "smtp.gmail.com"

// Config contains SMTP connection parameters.
// Credentials are not part of it, they are passed to Transport.Open.
type Config struct {
	Host       string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`   // relay host
	Port       int           `envconfig:"SMTP_PORT" default:"587"`              // 587 for STARTTLS submission
	StartTLS   bool          `envconfig:"SMTP_STARTTLS" default:"true"`         // upgrade when the relay advertises STARTTLS
	RequireTLS bool          `envconfig:"SMTP_REQUIRE_TLS" default:"false"`     // fail when STARTTLS is not advertised
	Debug      bool          `envconfig:"SMTP_DEBUG" default:"true"`            // log protocol transcript
	LocalName  string        `envconfig:"SMTP_LOCAL_NAME" default:"localhost"` // EHLO name
	Timeout    time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`           // dial and per-phase I/O bound
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
