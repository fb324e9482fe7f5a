// Package message holds the mail batch model: messages, bodies, builders and
// per-message delivery results.
package message

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/dhcgn/mailbatch/address"
)

// DefaultSubject is rendered when a message has no subject.
const DefaultSubject = "(no subject)"

var ErrInvalidMessage = errors.New("message is not valid")

// Body is the variant payload of a Message. It is implemented by TextBody and *MimeBody only.
type Body interface {
	valid() bool
	isBody()
}

// TextBody is a plain text payload.
type TextBody string

func (TextBody) isBody() {}
func (TextBody) valid() bool { return true }

// Message is a single mail message. Addresses are canonical and validated
// when the message is built; Message values are not mutated after Build.
type Message struct {
	From    string
	ReplyTo string
	Subject string
	To      address.Set
	CC      address.Set
	BCC     address.Set
	Date    time.Time
	Body    Body
}

// Valid reports whether from parses, to is non-empty and the body is valid.
func (m Message) Valid() bool {
	if _, ok := address.Parse(m.From); !ok {
		return false
	}
	if m.To.Len() == 0 {
		return false
	}
	return m.Body != nil && m.Body.valid()
}

// SubjectOrDefault returns the subject, falling back to DefaultSubject.
func (m Message) SubjectOrDefault() string {
	if m.Subject == "" {
		return DefaultSubject
	}
	return m.Subject
}

// ReplyToOrFrom returns the reply-to address, falling back to from.
func (m Message) ReplyToOrFrom() string {
	if m.ReplyTo == "" {
		return m.From
	}
	return m.ReplyTo
}

// Recipients returns to, cc and bcc as one distinct list.
func (m Message) Recipients() []string {
	return m.To.Union(m.CC, m.BCC).Values()
}

// Text returns the renderable plain text of the message. For mime bodies
// without plain text the empty string is returned as long as HTML exists.
func (m Message) Text() (string, bool) {
	if !m.Valid() {
		return "", false
	}
	switch body := m.Body.(type) {
	case TextBody:
		return string(body), true
	case *MimeBody:
		text, _ := body.Text()
		return text, true
	default:
		return "", false
	}
}

// HTML returns the HTML alternative, if any.
func (m Message) HTML() (string, bool) {
	switch body := m.Body.(type) {
	case *MimeBody:
		return body.HTML()
	default:
		return "", false
	}
}

// Fingerprint is a stable digest of the message content used to recognise a
// message across runs.
func (m Message) Fingerprint() string {
	h := sha256.New()
	write := func(values ...string) {
		for _, v := range values {
			_, _ = io.WriteString(h, v)
			_, _ = h.Write([]byte{0})
		}
	}

	write("from", m.From, "reply", m.ReplyTo, "subject", m.Subject)
	write("to")
	write(m.To.Values()...)
	write("cc")
	write(m.CC.Values()...)
	write("bcc")
	write(m.BCC.Values()...)

	switch body := m.Body.(type) {
	case TextBody:
		write("text", string(body))
	case *MimeBody:
		text, _ := body.Text()
		html, _ := body.HTML()
		write("mime", text, html, "inline")
		for _, p := range body.Inline() {
			write(p.Name, p.Resource.ContentType())
		}
		write("attach")
		for _, p := range body.Attachments() {
			write(p.Name, p.Resource.ContentType())
		}
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
