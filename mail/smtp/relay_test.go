package smtp

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal SMTP relay for testing.
type fakeRelay struct {
	listener net.Listener
	cert     *tls.Certificate // nil: STARTTLS not advertised

	username, password string // accepted AUTH PLAIN credentials
	rejectRcpt         bool
	rejectData         bool
	stallMail          bool
	injectAfterTLS     bool     // pipelines a plaintext line behind the STARTTLS reply
	plainExt, tlsExt   []string // extra EHLO keywords before and after STARTTLS

	mx       sync.Mutex
	commands []string
	messages []string
	quits    int
}

type relayOption func(*fakeRelay)

func withTLS(cert tls.Certificate) relayOption {
	return func(r *fakeRelay) { r.cert = &cert }
}

func withCredentials(username, password string) relayOption {
	return func(r *fakeRelay) { r.username, r.password = username, password }
}

func rejectingRcpt() relayOption {
	return func(r *fakeRelay) { r.rejectRcpt = true }
}

func rejectingData() relayOption {
	return func(r *fakeRelay) { r.rejectData = true }
}

// stallingMail never answers MAIL FROM.
func stallingMail() relayOption {
	return func(r *fakeRelay) { r.stallMail = true }
}

func injectingAfterStartTLS() relayOption {
	return func(r *fakeRelay) { r.injectAfterTLS = true }
}

func withExtensions(plain, secure []string) relayOption {
	return func(r *fakeRelay) { r.plainExt, r.tlsExt = plain, secure }
}

func startFakeRelay(t *testing.T, opts ...relayOption) *fakeRelay {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start SMTP relay")

	r := &fakeRelay{listener: listener}
	for _, opt := range opts {
		opt(r)
	}

	go r.serve()
	t.Cleanup(func() { _ = listener.Close() })

	return r
}

// config returns a transport config pointing at the relay.
func (r *fakeRelay) config() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      r.listener.Addr().(*net.TCPAddr).Port,
		StartTLS:  true,
		Debug:     true,
		LocalName: "probe.test",
		Timeout:   5 * time.Second,
	}
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			writer.WriteString(l + "\r\n")
		}
		writer.Flush()
	}

	reply("220 fake.relay ESMTP ready")

	secure := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		r.record(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"):
			lines := []string{"250-fake.relay"}
			if r.cert != nil && !secure {
				lines = append(lines, "250-STARTTLS")
			}
			ext := r.plainExt
			if secure {
				ext = r.tlsExt
			}
			for _, e := range ext {
				lines = append(lines, "250-"+e)
			}
			reply(append(lines, "250-AUTH PLAIN", "250 HELP")...)
		case upper == "STARTTLS" && r.cert != nil:
			if r.injectAfterTLS {
				reply("220 2.0.0 Ready to start TLS", "250 INJECTED")
			} else {
				reply("220 2.0.0 Ready to start TLS")
			}

			tlsConn := tls.Server(conn, &tls.Config{
				Certificates: []tls.Certificate{*r.cert},
				MinVersion:   tls.VersionTLS12,
			})
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			reader = bufio.NewReader(tlsConn)
			writer = bufio.NewWriter(tlsConn)
			secure = true
		case strings.HasPrefix(upper, "AUTH PLAIN"):
			if r.checkPlain(line) {
				reply("235 2.7.0 Accepted")
			} else {
				reply("535 5.7.8 Username and Password not accepted")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			if r.stallMail {
				continue
			}
			reply("250 2.1.0 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			if r.rejectRcpt {
				reply("550 5.1.1 No such user")
			} else {
				reply("250 2.1.5 OK")
			}
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")

			var msg strings.Builder
			for {
				l, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				msg.WriteString(l)
			}
			r.addMessage(msg.String())

			if r.rejectData {
				reply("554 5.7.1 Message rejected")
			} else {
				reply("250 2.0.0 OK queued as 42")
			}
		case upper == "QUIT":
			r.mx.Lock()
			r.quits++
			r.mx.Unlock()
			reply("221 2.0.0 Bye")
			return
		default:
			reply("500 5.5.2 Syntax error")
		}
	}
}

func (r *fakeRelay) checkPlain(line string) bool {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return false
	}
	return string(decoded) == "\x00"+r.username+"\x00"+r.password
}

func (r *fakeRelay) record(line string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.commands = append(r.commands, line)
}

func (r *fakeRelay) addMessage(msg string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *fakeRelay) snapshot() (commands, messages []string, quits int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.commands...), append([]string(nil), r.messages...), r.quits
}

// startSilentRelay accepts connections and never greets.
func startSilentRelay(t *testing.T) Config {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	return Config{
		Host:    "127.0.0.1",
		Port:    listener.Addr().(*net.TCPAddr).Port,
		Timeout: 5 * time.Second,
	}
}

// generateTestCert generates a self-signed certificate for 127.0.0.1 and a
// pool trusting it.
func generateTestCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test SMTP"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, pool
}
