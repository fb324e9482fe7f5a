// Package mimetree builds the multipart structure of a single message and
// renders it with go-message.
package mimetree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/resource"
)

const (
	DispositionAttachment = "attachment"
	DispositionInline     = "inline"
)

var (
	ErrNotMultipart = errors.New("message tree has no multipart container")
	ErrNoContent    = errors.New("message has neither text nor html")
)

// Mode selects the multipart layout of a tree.
type Mode int

const (
	// ModeNone is a single part message.
	ModeNone Mode = iota
	// ModeMixed is a multipart/mixed root holding the body, attachments and inline parts.
	ModeMixed
	// ModeRelated is a multipart/related root holding the body and inline parts.
	ModeRelated
	// ModeMixedRelated nests a multipart/related body inside a multipart/mixed root.
	ModeMixedRelated
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeMixed:
		return "mixed"
	case ModeRelated:
		return "related"
	case ModeMixedRelated:
		return "mixed-related"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SelectMode returns the tightest layout for a message body.
func SelectMode(body message.Body) Mode {
	switch b := body.(type) {
	case *message.MimeBody:
		inline := len(b.Inline()) > 0
		attach := len(b.Attachments()) > 0
		switch {
		case inline && attach:
			return ModeMixedRelated
		case inline:
			return ModeRelated
		case attach:
			return ModeMixed
		}
		if _, ok := b.HTML(); ok {
			return ModeMixed
		}
		return ModeNone
	case message.TextBody:
		return ModeNone
	default:
		return ModeNone
	}
}

// Tree is the content tree of one message plus its top level header.
type Tree struct {
	mode   Mode
	header mail.Header

	root      *Part
	container *Part
	main      *Part
}

// New creates an empty tree laid out for mode.
func New(mode Mode) *Tree {
	t := &Tree{mode: mode}
	switch mode {
	case ModeMixed:
		t.root = newContainer("mixed")
		t.container = t.root
	case ModeRelated:
		t.root = newContainer("related")
		t.container = t.root
	case ModeMixedRelated:
		t.root = newContainer("mixed")
		t.container = newContainer("related")
		t.root.append(t.container)
	default:
		t.mode = ModeNone
		t.root = &Part{}
		t.main = t.root
	}
	return t
}

func (t *Tree) Mode() Mode { return t.mode }

// Header is the message level header (addresses, subject, date, id).
func (t *Tree) Header() *mail.Header { return &t.header }

// Root returns the top level content part.
func (t *Tree) Root() *Part { return t.root }

// Container returns the multipart that receives the body and inline parts,
// or nil in ModeNone.
func (t *Tree) Container() *Part { return t.container }

// MainPart returns the body part. It is created on first use and prepended to
// the container, so it stays the first child even when parts were added
// before it; later calls return the same part.
func (t *Tree) MainPart() *Part {
	if t.main == nil {
		t.main = &Part{}
		t.container.prepend(t.main)
	}
	return t.main
}

func (t *Tree) SetText(text string) {
	t.MainPart().setText("text/plain", text)
}

func (t *Tree) SetHTML(html string) {
	t.MainPart().setText("text/html", html)
}

// SetAlternative makes the body a multipart/alternative of text then html.
func (t *Tree) SetAlternative(text, html string) {
	t.MainPart().setAlternative(text, html)
}

// SetBody picks the body shape from which of text and html are present.
func (t *Tree) SetBody(text string, hasText bool, html string, hasHTML bool) error {
	switch {
	case hasText && hasHTML:
		t.SetAlternative(text, html)
	case hasText:
		t.SetText(text)
	case hasHTML:
		t.SetHTML(html)
	default:
		return ErrNoContent
	}
	return nil
}

// AddAttachment appends an attachment part to the root.
func (t *Tree) AddAttachment(name string, res resource.ContentResource) (*Part, error) {
	if t.mode == ModeNone {
		return nil, fmt.Errorf("attach %s: %w", name, ErrNotMultipart)
	}
	p := newResourcePart(name, DispositionAttachment, res)
	t.root.append(p)
	return p, nil
}

// AddInline appends an inline part to the container.
func (t *Tree) AddInline(name string, res resource.ContentResource) (*Part, error) {
	if t.mode == ModeNone {
		return nil, fmt.Errorf("inline %s: %w", name, ErrNotMultipart)
	}
	p := newResourcePart(name, DispositionInline, res)
	t.container.append(p)
	return p, nil
}

func (t *Tree) SetFrom(addr string) {
	t.SetAddresses("From", addr)
}

func (t *Tree) SetReplyTo(addr string) {
	t.SetAddresses("Reply-To", addr)
}

func (t *Tree) SetSubject(subject string) {
	t.header.SetSubject(subject)
}

func (t *Tree) SetDate(date time.Time) {
	t.header.SetDate(date)
}

// SetAddresses sets an address list header. An empty list removes the header.
func (t *Tree) SetAddresses(key string, addrs ...string) {
	if len(addrs) == 0 {
		t.header.Del(key)
		return
	}
	list := make([]*mail.Address, 0, len(addrs))
	for _, addr := range addrs {
		list = append(list, &mail.Address{Address: addr})
	}
	t.header.SetAddressList(key, list)
}

// GenerateMessageID sets a fresh Message-Id and returns it in angle brackets.
func (t *Tree) GenerateMessageID() (string, error) {
	if err := t.header.GenerateMessageID(); err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return t.MessageID(), nil
}

// MessageID returns the Message-Id in angle brackets, or the empty string.
func (t *Tree) MessageID() string {
	id, err := t.header.MessageID()
	if err != nil || id == "" {
		return ""
	}
	return "<" + id + ">"
}

// WriteTo renders the complete message.
func (t *Tree) WriteTo(w io.Writer) (int64, error) {
	header := t.header.Header.Copy()
	header.Set("Mime-Version", "1.0")
	fields := t.root.header.Fields()
	for fields.Next() {
		header.Add(fields.Key(), fields.Value())
	}

	cw := &countingWriter{w: w}
	mw, err := gomessage.CreateWriter(cw, header)
	if err != nil {
		return cw.n, fmt.Errorf("create message writer: %w", err)
	}
	if err := t.root.write(mw); err != nil {
		return cw.n, fmt.Errorf("render message: %w", err)
	}
	return cw.n, nil
}

// Bytes renders the message into memory.
func (t *Tree) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := t.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
