package message

import (
	"fmt"
	"io"
	"time"

	"github.com/dhcgn/mailbatch/address"
	"github.com/dhcgn/mailbatch/resource"
)

// Builder assembles a Message with chained setters. Invalid addresses are
// dropped silently; Build only fails when a reader or file source fails.
type Builder struct {
	msg Message
	err error
}

func New() *Builder {
	return &Builder{}
}

// From sets the sender. An unparseable address leaves the message without a sender.
func (b *Builder) From(from string) *Builder {
	b.msg.From, _ = address.Parse(from)
	return b
}

func (b *Builder) ReplyTo(replyTo string) *Builder {
	b.msg.ReplyTo, _ = address.Parse(replyTo)
	return b
}

func (b *Builder) Subject(subject string) *Builder {
	b.msg.Subject = subject
	return b
}

func (b *Builder) To(candidates ...string) *Builder {
	b.msg.To = b.msg.To.Union(address.ParseAll(candidates...))
	return b
}

func (b *Builder) CC(candidates ...string) *Builder {
	b.msg.CC = b.msg.CC.Union(address.ParseAll(candidates...))
	return b
}

func (b *Builder) BCC(candidates ...string) *Builder {
	b.msg.BCC = b.msg.BCC.Union(address.ParseAll(candidates...))
	return b
}

func (b *Builder) Date(date time.Time) *Builder {
	b.msg.Date = date
	return b
}

// Text makes the message a plain text message.
func (b *Builder) Text(text string) *Builder {
	b.msg.Body = TextBody(text)
	return b
}

// TextFrom reads the plain text body from r.
func (b *Builder) TextFrom(r io.Reader) *Builder {
	data, err := io.ReadAll(r)
	if err != nil {
		b.fail(fmt.Errorf("read text body: %w", err))
		return b
	}
	return b.Text(string(data))
}

// Mime makes the message a multi-part message with the given body.
func (b *Builder) Mime(body *MimeBody) *Builder {
	if body == nil {
		b.msg.Body = nil
		return b
	}
	b.msg.Body = body.clone()
	return b
}

// Build returns the message. The builder may keep being used afterwards
// without affecting returned messages.
func (b *Builder) Build() (Message, error) {
	if b.err != nil {
		return Message{}, b.err
	}
	msg := b.msg
	msg.To = msg.To.Clone()
	msg.CC = msg.CC.Clone()
	msg.BCC = msg.BCC.Clone()
	if body, ok := msg.Body.(*MimeBody); ok {
		msg.Body = body.clone()
	}
	return msg, nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// MimeBodyBuilder assembles a MimeBody.
type MimeBodyBuilder struct {
	body MimeBody
	err  error
}

func NewMimeBody() *MimeBodyBuilder {
	return &MimeBodyBuilder{}
}

func (b *MimeBodyBuilder) Text(text string) *MimeBodyBuilder {
	b.body.text = &text
	return b
}

func (b *MimeBodyBuilder) HTML(html string) *MimeBodyBuilder {
	b.body.html = &html
	return b
}

func (b *MimeBodyBuilder) TextFrom(r io.Reader) *MimeBodyBuilder {
	data, err := io.ReadAll(r)
	if err != nil {
		b.fail(fmt.Errorf("read text: %w", err))
		return b
	}
	return b.Text(string(data))
}

func (b *MimeBodyBuilder) HTMLFrom(r io.Reader) *MimeBodyBuilder {
	data, err := io.ReadAll(r)
	if err != nil {
		b.fail(fmt.Errorf("read html: %w", err))
		return b
	}
	return b.HTML(string(data))
}

// Inline adds or replaces the inline part called name.
func (b *MimeBodyBuilder) Inline(name string, res resource.ContentResource) *MimeBodyBuilder {
	b.body.inline = putPart(b.body.inline, name, res)
	return b
}

// Attach adds or replaces the attachment called name.
func (b *MimeBodyBuilder) Attach(name string, res resource.ContentResource) *MimeBodyBuilder {
	b.body.attach = putPart(b.body.attach, name, res)
	return b
}

func (b *MimeBodyBuilder) InlineBytes(name string, data []byte, contentType string) *MimeBodyBuilder {
	return b.Inline(name, resource.Bytes(name, data, contentType))
}

func (b *MimeBodyBuilder) AttachBytes(name string, data []byte, contentType string) *MimeBodyBuilder {
	return b.Attach(name, resource.Bytes(name, data, contentType))
}

func (b *MimeBodyBuilder) InlineFile(name, path, contentType string) *MimeBodyBuilder {
	res, err := resource.File(path, contentType)
	if err != nil {
		b.fail(fmt.Errorf("inline %s: %w", name, err))
		return b
	}
	return b.Inline(name, res)
}

func (b *MimeBodyBuilder) AttachFile(name, path, contentType string) *MimeBodyBuilder {
	res, err := resource.File(path, contentType)
	if err != nil {
		b.fail(fmt.Errorf("attach %s: %w", name, err))
		return b
	}
	return b.Attach(name, res)
}

func (b *MimeBodyBuilder) Build() (*MimeBody, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.body.clone(), nil
}

func (b *MimeBodyBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
