package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/dhcgn/mailbatch/address"
	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/mimetree"
)

var (
	ErrMissingFrom = errors.New("missing or invalid from address")
	ErrMissingTo   = errors.New("no valid to recipients")
	ErrNoBody      = errors.New("no renderable body")
)

// Check reports why msg cannot be sent, or nil.
func Check(msg message.Message) error {
	if _, ok := address.Parse(msg.From); !ok {
		return fmt.Errorf("%w: %w", message.ErrInvalidMessage, ErrMissingFrom)
	}
	if msg.To.Len() == 0 {
		return fmt.Errorf("%w: %w", message.ErrInvalidMessage, ErrMissingTo)
	}
	if _, ok := msg.Text(); !ok {
		return fmt.Errorf("%w: %w", message.ErrInvalidMessage, ErrNoBody)
	}
	return nil
}

// Render builds the MIME tree for msg dated date. Multi-part bodies with
// parts or HTML use ModeMixed; everything else is a single part. Bcc
// recipients are left out of the headers.
func Render(msg message.Message, date time.Time) (*mimetree.Tree, error) {
	if err := Check(msg); err != nil {
		return nil, err
	}

	mode := mimetree.ModeNone
	if body, ok := msg.Body.(*message.MimeBody); ok {
		if _, hasHTML := body.HTML(); hasHTML || body.HasParts() {
			mode = mimetree.ModeMixed
		}
	}

	tree := mimetree.New(mode)
	tree.SetFrom(msg.From)
	tree.SetReplyTo(msg.ReplyToOrFrom())
	tree.SetSubject(msg.SubjectOrDefault())
	tree.SetDate(date)
	tree.SetAddresses("To", msg.To.Values()...)
	tree.SetAddresses("Cc", msg.CC.Values()...)

	switch body := msg.Body.(type) {
	case message.TextBody:
		tree.SetText(string(body))
	case *message.MimeBody:
		text, hasText := body.Text()
		html, hasHTML := body.HTML()
		if err := tree.SetBody(text, hasText, html, hasHTML); err != nil {
			return nil, err
		}
		for _, p := range body.Attachments() {
			if _, err := tree.AddAttachment(p.Name, p.Resource); err != nil {
				return nil, err
			}
		}
		for _, p := range body.Inline() {
			if _, err := tree.AddInline(p.Name, p.Resource); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: %w", message.ErrInvalidMessage, ErrNoBody)
	}

	if _, err := tree.GenerateMessageID(); err != nil {
		return nil, err
	}
	return tree, nil
}
