package mimetree

import (
	"fmt"
	"io"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"

	"github.com/dhcgn/mailbatch/resource"
)

var wordDecoder = new(mime.WordDecoder)

// Part is a node of the content tree: either a multipart container with
// children or a leaf holding text or a resource.
type Part struct {
	header   gomessage.Header
	children []*Part

	text   string
	source resource.ContentResource
}

func newContainer(subtype string) *Part {
	p := &Part{}
	p.header.SetContentType("multipart/"+subtype, nil)
	return p
}

// Header exposes the part header.
func (p *Part) Header() *gomessage.Header {
	return &p.header
}

// MediaType returns the media type without parameters, e.g. "multipart/mixed".
func (p *Part) MediaType() string {
	t, _, err := p.header.ContentType()
	if err != nil {
		return ""
	}
	return t
}

func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.MediaType(), "multipart/")
}

// Children returns a copy of the child list.
func (p *Part) Children() []*Part {
	return append([]*Part(nil), p.children...)
}

// Disposition returns "attachment", "inline" or the empty string.
func (p *Part) Disposition() string {
	disp, _, err := p.header.ContentDisposition()
	if err != nil {
		return ""
	}
	return disp
}

// Filename returns the decoded filename parameter, or the empty string.
func (p *Part) Filename() string {
	_, params, err := p.header.ContentDisposition()
	if err != nil {
		return ""
	}
	name := params["filename"]
	if decoded, err := wordDecoder.DecodeHeader(name); err == nil {
		return decoded
	}
	return name
}

// Text returns the content of a text leaf.
func (p *Part) Text() string {
	return p.text
}

func (p *Part) headerCopy() gomessage.Header {
	return p.header.Copy()
}

func (p *Part) append(child *Part) {
	p.children = append(p.children, child)
}

func (p *Part) prepend(child *Part) {
	p.children = append([]*Part{child}, p.children...)
}

func (p *Part) setText(mediaType, text string) {
	p.children = nil
	p.source = nil
	p.text = text
	p.header.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	p.header.Set("Content-Transfer-Encoding", "quoted-printable")
}

// setAlternative turns p into a multipart/alternative container holding the
// plain text first and the HTML second.
func (p *Part) setAlternative(text, html string) {
	p.text = ""
	p.source = nil
	p.header.Del("Content-Transfer-Encoding")
	p.header.SetContentType("multipart/alternative", nil)

	plain := &Part{}
	plain.setText("text/plain", text)
	rich := &Part{}
	rich.setText("text/html", html)
	p.children = []*Part{plain, rich}
}

func newResourcePart(name, disposition string, res resource.ContentResource) *Part {
	p := &Part{source: res}
	filename := mime.QEncoding.Encode("utf-8", name)

	mediaType, params, err := mime.ParseMediaType(res.ContentType())
	if err != nil {
		mediaType, params = resource.DefaultContentType, nil
	}
	if params == nil {
		params = make(map[string]string)
	}
	params["name"] = filename

	p.header.SetContentType(mediaType, params)
	p.header.SetContentDisposition(disposition, map[string]string{"filename": filename})
	p.header.Set("Content-Transfer-Encoding", "base64")
	if disposition == DispositionInline {
		p.header.Set("Content-Id", "<"+ContentID(name)+">")
	}
	return p
}

// ContentID returns the msg-id, without angle brackets, under which an inline
// part named name is referenced from HTML as cid:<id>. Characters outside the
// RFC 5322 atext set are dropped.
func ContentID(name string) string {
	var b strings.Builder
	for _, r := range name {
		if isAtext(r) || (r == '.' && b.Len() > 0 && !strings.HasSuffix(b.String(), ".")) {
			b.WriteRune(r)
		}
	}
	id := strings.TrimSuffix(b.String(), ".")
	if id == "" {
		id = "part"
	}
	return id + "@" + contentIDDomain
}

const contentIDDomain = "inline"

func isAtext(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("!#$%&'*+-/=?^_`{|}~", r)
}

func (p *Part) writeBody(w io.Writer) error {
	if p.source == nil {
		_, err := io.WriteString(w, p.text)
		return err
	}

	r, err := p.source.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", p.source.Name(), err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy %s: %w", p.source.Name(), err)
	}
	return nil
}

// write renders p into w, which was created for p's header.
func (p *Part) write(w *gomessage.Writer) error {
	if p.IsMultipart() {
		for _, child := range p.children {
			cw, err := w.CreatePart(child.headerCopy())
			if err != nil {
				return fmt.Errorf("create %s part: %w", child.MediaType(), err)
			}
			if err := child.write(cw); err != nil {
				return err
			}
		}
	} else if err := p.writeBody(w); err != nil {
		return err
	}
	return w.Close()
}
