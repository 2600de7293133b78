package email

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Message represents one notification addressed to one recipient.
type Message struct {
	FromAddress string // envelope and header sender
	FromName    string // display name for the From header
	To          string // recipient email address
	Subject     string // email subject
	HTMLBody    string // HTML email body
	TextBody    string // plain-text alternative
	MessageID   string // unique Message-ID header value
}

// Template holds the constant parts of a notification.
type Template struct {
	FromAddress string
	FromName    string
	Subject     string
	HTMLBody    string
	TextBody    string
}

// Compose builds a fresh message for a single recipient.
// Every call yields a new Message-ID so relays do not fold repeated sends together.
func (t Template) Compose(to string) Message {
	return Message{
		FromAddress: t.FromAddress,
		FromName:    t.FromName,
		To:          to,
		Subject:     t.Subject,
		HTMLBody:    t.HTMLBody,
		TextBody:    t.TextBody,
		MessageID:   newMessageID(t.FromAddress),
	}
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// mime renders the message as a gomail message. When both bodies are set
// the result is multipart/alternative with the HTML part preferred.
func (m Message) mime() *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.FromAddress, m.FromName)
	gm.SetHeader("To", m.To)
	gm.SetHeader("Subject", m.Subject)
	if m.MessageID != "" {
		gm.SetHeader("Message-ID", m.MessageID)
	}

	switch {
	case m.HTMLBody != "" && m.TextBody != "":
		gm.SetBody("text/plain", m.TextBody)
		gm.AddAlternative("text/html", m.HTMLBody)
	case m.HTMLBody != "":
		gm.SetBody("text/html", m.HTMLBody)
	default:
		gm.SetBody("text/plain", m.TextBody)
	}

	return gm
}

// WriteTo writes the RFC 5322 representation of the message to w.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	return m.mime().WriteTo(w)
}
