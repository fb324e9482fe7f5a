package message

import "github.com/dhcgn/mailbatch/resource"

// Part is a named resource inside a mime body.
type Part struct {
	Name     string
	Resource resource.ContentResource
}

// MimeBody is the payload of a multi-part message: optional plain text,
// optional HTML, inline resources and attachments. Both part lists keep
// insertion order and unique names.
type MimeBody struct {
	text   *string
	html   *string
	inline []Part
	attach []Part
}

func (*MimeBody) isBody() {}

func (b *MimeBody) valid() bool {
	return b != nil && (b.text != nil || b.html != nil)
}

// Text returns the plain text and whether it was set.
func (b *MimeBody) Text() (string, bool) {
	if b == nil || b.text == nil {
		return "", false
	}
	return *b.text, true
}

// HTML returns the HTML text and whether it was set.
func (b *MimeBody) HTML() (string, bool) {
	if b == nil || b.html == nil {
		return "", false
	}
	return *b.html, true
}

// Inline returns a copy of the inline parts in insertion order.
func (b *MimeBody) Inline() []Part {
	if b == nil {
		return nil
	}
	return append([]Part(nil), b.inline...)
}

// Attachments returns a copy of the attachment parts in insertion order.
func (b *MimeBody) Attachments() []Part {
	if b == nil {
		return nil
	}
	return append([]Part(nil), b.attach...)
}

// HasParts reports whether any inline part or attachment exists.
func (b *MimeBody) HasParts() bool {
	return b != nil && (len(b.inline) > 0 || len(b.attach) > 0)
}

func (b *MimeBody) clone() *MimeBody {
	out := &MimeBody{
		inline: append([]Part(nil), b.inline...),
		attach: append([]Part(nil), b.attach...),
	}
	if b.text != nil {
		text := *b.text
		out.text = &text
	}
	if b.html != nil {
		html := *b.html
		out.html = &html
	}
	return out
}

func putPart(parts []Part, name string, res resource.ContentResource) []Part {
	for i := range parts {
		if parts[i].Name == name {
			parts[i].Resource = res
			return parts
		}
	}
	return append(parts, Part{Name: name, Resource: res})
}
