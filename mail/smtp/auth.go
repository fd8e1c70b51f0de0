package smtp

import (
	"net"
	"net/smtp"

	"github.com/pkg/errors"
)

// plainAuth implements AUTH PLAIN. Unlike smtp.PlainAuth it trusts the TLS
// state tracked by the transport, because the STARTTLS upgrade happens
// underneath the smtp.Client.
type plainAuth struct {
	username string
	password string
	secure   bool
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !a.secure && !isLoopback(server.Name) {
		return "", nil, errors.New("refusing PLAIN authentication over an unencrypted connection")
	}
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge")
	}
	return nil, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || net.ParseIP(host).IsLoopback()
}
