package smtp

import (
	"fmt"
	"maps"
	"mime"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pure-golang/smtpprobe/mail"
)

// buildMessage builds the raw email message.
func buildMessage(email mail.Email, messageID string, date time.Time) []byte {
	var msg strings.Builder

	// Headers
	msg.WriteString(fmt.Sprintf("From: %s\r\n", formatAddress(email.From)))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", formatAddressList(email.To)))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", email.Subject)))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", date.Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")

	for _, k := range slices.Sorted(maps.Keys(email.Headers)) {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, email.Headers[k]))
	}

	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(email.Body)
	msg.WriteString("\r\n")

	return []byte(msg.String())
}

// newMessageID returns "<uuid@domain>", taking the domain from the sender.
func newMessageID(from, fallback string) string {
	domain := fallback
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// formatAddress formats a single address.
func formatAddress(addr mail.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("UTF-8", addr.Name), addr.Address)
	}
	return addr.Address
}

// formatAddressList formats a list of addresses.
func formatAddressList(addrs []mail.Address) string {
	formatted := make([]string, len(addrs))
	for i, addr := range addrs {
		formatted[i] = formatAddress(addr)
	}
	return strings.Join(formatted, ", ")
}

// getEmailAddresses extracts bare addresses, skipping empty ones.
func getEmailAddresses(addrs []mail.Address) []string {
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Address != "" {
			result = append(result, addr.Address)
		}
	}
	return result
}
