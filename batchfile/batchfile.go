// Package batchfile decodes YAML batch descriptions into a message batch.
//
//	defaults:
//	  from: news@example.com
//	messages:
//	  - to: [ann@example.com]
//	    subject: Hello
//	    text: Plain body
//	    html_file: body.html
//	    inline:
//	      - {name: logo.png, path: img/logo.png}
//	    attach:
//	      - {path: report.pdf, content_type: application/pdf}
//
// Relative paths are resolved against the directory of the batch file.
package batchfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mailbatch/address"
	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/resource"
)

var ErrNoMessages = errors.New("batch file has no messages")

type File struct {
	Defaults Defaults `yaml:"defaults"`
	Messages []Entry  `yaml:"messages"`
}

// Defaults apply to every entry that leaves the field empty.
type Defaults struct {
	From    string   `yaml:"from"`
	ReplyTo string   `yaml:"reply_to"`
	Subject string   `yaml:"subject"`
	CC      []string `yaml:"cc"`
	BCC     []string `yaml:"bcc"`
}

type Entry struct {
	From     string    `yaml:"from"`
	ReplyTo  string    `yaml:"reply_to"`
	Subject  string    `yaml:"subject"`
	To       []string  `yaml:"to"`
	CC       []string  `yaml:"cc"`
	BCC      []string  `yaml:"bcc"`
	Date     time.Time `yaml:"date"`
	Mime     bool      `yaml:"mime"`
	Text     *string   `yaml:"text"`
	TextFile string    `yaml:"text_file"`
	HTML     *string   `yaml:"html"`
	HTMLFile string    `yaml:"html_file"`
	Inline   []PartRef `yaml:"inline"`
	Attach   []PartRef `yaml:"attach"`
}

type PartRef struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	ContentType string `yaml:"content_type"`
}

// Rejected lists the address candidates of one entry that did not parse.
type Rejected struct {
	Index     int
	Addresses []string
}

// isMime reports whether the entry needs a multi-part body.
func (e Entry) isMime() bool {
	return e.Mime || e.HTML != nil || e.HTMLFile != "" || len(e.Inline) > 0 || len(e.Attach) > 0
}

type Decoder struct {
	baseDir string
	loader  *resource.CachedLoader
}

// NewDecoder resolves relative paths against baseDir and reads part files
// through loader. A nil loader gets a private one.
func NewDecoder(baseDir string, loader *resource.CachedLoader) *Decoder {
	if loader == nil {
		loader = resource.NewCachedLoader()
	}
	return &Decoder{baseDir: baseDir, loader: loader}
}

// Load decodes the batch file at path.
func Load(path string, loader *resource.CachedLoader) (*message.Mail, []Rejected, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open batch file: %w", err)
	}
	defer file.Close()
	return NewDecoder(filepath.Dir(path), loader).Decode(file)
}

func (d *Decoder) Decode(r io.Reader) (*message.Mail, []Rejected, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrNoMessages
		}
		return nil, nil, fmt.Errorf("decode batch file: %w", err)
	}
	if len(f.Messages) == 0 {
		return nil, nil, ErrNoMessages
	}

	mail := message.NewMail()
	var rejected []Rejected
	for i, entry := range f.Messages {
		msg, bad, err := d.build(f.Defaults, entry)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		if len(bad) > 0 {
			rejected = append(rejected, Rejected{Index: i, Addresses: bad})
		}
		mail.Add(msg)
	}
	return mail, rejected, nil
}

func (d *Decoder) build(defaults Defaults, e Entry) (message.Message, []string, error) {
	from := firstNonEmpty(e.From, defaults.From)
	cc := e.CC
	if len(cc) == 0 {
		cc = defaults.CC
	}
	bcc := e.BCC
	if len(bcc) == 0 {
		bcc = defaults.BCC
	}

	var bad []string
	if _, ok := address.Parse(from); !ok && strings.TrimSpace(from) != "" {
		bad = append(bad, from)
	}
	for _, list := range [][]string{e.To, cc, bcc} {
		_, rejected := address.ParseAllReport(list...)
		bad = append(bad, rejected...)
	}

	b := message.New().
		From(from).
		ReplyTo(firstNonEmpty(e.ReplyTo, defaults.ReplyTo)).
		Subject(firstNonEmpty(e.Subject, defaults.Subject)).
		To(e.To...).
		CC(cc...).
		BCC(bcc...).
		Date(e.Date)

	if !e.isMime() {
		if e.TextFile != "" {
			file, err := os.Open(d.resolve(e.TextFile))
			if err != nil {
				return message.Message{}, nil, fmt.Errorf("open text file: %w", err)
			}
			defer file.Close()
			b.TextFrom(file)
		} else if e.Text != nil {
			b.Text(*e.Text)
		}
		msg, err := b.Build()
		return msg, bad, err
	}

	body, err := d.mimeBody(e)
	if err != nil {
		return message.Message{}, nil, err
	}
	msg, err := b.Mime(body).Build()
	return msg, bad, err
}

func (d *Decoder) mimeBody(e Entry) (*message.MimeBody, error) {
	mb := message.NewMimeBody()
	if e.Text != nil {
		mb.Text(*e.Text)
	}
	if e.TextFile != "" {
		res, err := d.loader.Get(d.resolve(e.TextFile))
		if err != nil {
			return nil, fmt.Errorf("text file: %w", err)
		}
		r, err := res.Open()
		if err != nil {
			return nil, err
		}
		mb.TextFrom(r)
		_ = r.Close()
	}
	if e.HTML != nil {
		mb.HTML(*e.HTML)
	}
	if e.HTMLFile != "" {
		res, err := d.loader.Get(d.resolve(e.HTMLFile))
		if err != nil {
			return nil, fmt.Errorf("html file: %w", err)
		}
		r, err := res.Open()
		if err != nil {
			return nil, err
		}
		mb.HTMLFrom(r)
		_ = r.Close()
	}

	for _, ref := range e.Inline {
		name, res, err := d.part(ref)
		if err != nil {
			return nil, fmt.Errorf("inline: %w", err)
		}
		mb.Inline(name, res)
	}
	for _, ref := range e.Attach {
		name, res, err := d.part(ref)
		if err != nil {
			return nil, fmt.Errorf("attach: %w", err)
		}
		mb.Attach(name, res)
	}
	return mb.Build()
}

func (d *Decoder) part(ref PartRef) (string, resource.ContentResource, error) {
	if strings.TrimSpace(ref.Path) == "" {
		return "", nil, resource.ErrEmptyPath
	}
	res, err := d.loader.Get(d.resolve(ref.Path))
	if err != nil {
		return "", nil, err
	}
	name := ref.Name
	if name == "" {
		name = filepath.Base(ref.Path)
	}
	if ref.ContentType == "" {
		return name, res, nil
	}
	return name, typed{ContentResource: res, contentType: ref.ContentType}, nil
}

func (d *Decoder) resolve(path string) string {
	if filepath.IsAbs(path) || d.baseDir == "" {
		return path
	}
	return filepath.Join(d.baseDir, path)
}

// typed overrides the content type of a shared cached resource.
type typed struct {
	resource.ContentResource
	contentType string
}

func (t typed) ContentType() string { return t.contentType }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
