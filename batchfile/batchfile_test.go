package batchfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/resource"
)

const sample = `
defaults:
  from: News <news@example.com>
  subject: Weekly
  bcc: [archive@example.com]
messages:
  - to: [ann@example.com, "Bob <bob@example.com>", not-an-address]
    text: Hello Ann
    date: 2024-03-04T05:06:07Z
  - from: desk@example.com
    subject: Report
    to: [cat@example.com]
    text: See attachment
    html_file: body.html
    inline:
      - {name: logo.png, path: logo.png}
    attach:
      - {path: data.bin, content_type: application/pdf}
  - to: [dan@example.com]
    attach:
      - {path: data.bin}
    mime: true
    text: again
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"body.html":  "<p>Report</p>",
		"logo.png":   "\x89PNG\r\n\x1a\n",
		"data.bin":   "payload",
		"batch.yaml": sample,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeFixtures(t)
	loader := resource.NewCachedLoader()

	mail, rejected, err := Load(filepath.Join(dir, "batch.yaml"), loader)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if mail.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", mail.Len())
	}
	msgs := mail.Messages()

	first := msgs[0]
	if first.From != "news@example.com" || first.Subject != "Weekly" {
		t.Errorf("defaults not applied: from=%q subject=%q", first.From, first.Subject)
	}
	if got := strings.Join(first.To.Values(), ","); got != "ann@example.com,bob@example.com" {
		t.Errorf("To = %s", got)
	}
	if !first.BCC.Contains("archive@example.com") {
		t.Error("default bcc missing")
	}
	if !first.Date.Equal(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("Date = %v", first.Date)
	}
	if _, ok := first.Body.(message.TextBody); !ok {
		t.Errorf("first body = %T, want TextBody", first.Body)
	}

	if len(rejected) != 1 || rejected[0].Index != 0 || rejected[0].Addresses[0] != "not-an-address" {
		t.Errorf("rejected = %+v", rejected)
	}

	second, ok := msgs[1].Body.(*message.MimeBody)
	if !ok {
		t.Fatalf("second body = %T, want *MimeBody", msgs[1].Body)
	}
	if html, _ := second.HTML(); html != "<p>Report</p>" {
		t.Errorf("HTML = %q", html)
	}
	attach := second.Attachments()
	if len(attach) != 1 || attach[0].Name != "data.bin" || attach[0].Resource.ContentType() != "application/pdf" {
		t.Errorf("attachments = %+v", attach)
	}
	if inline := second.Inline(); len(inline) != 1 || inline[0].Name != "logo.png" {
		t.Errorf("inline = %+v", inline)
	}

	third, ok := msgs[2].Body.(*message.MimeBody)
	if !ok || !msgs[2].Valid() {
		t.Fatalf("third message = %+v", msgs[2])
	}
	r, err := third.Attachments()[0].Resource.Open()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "payload" {
		t.Errorf("attachment data = %q", data)
	}

	if loader.Len() != 3 {
		t.Errorf("loader cached %d files, want 3 (data.bin shared)", loader.Len())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty document", "", ErrNoMessages},
		{"no messages", "defaults: {from: a@example.com}\n", ErrNoMessages},
		{"unknown field", "messages:\n  - to: [a@example.com]\n    colour: blue\n", nil},
		{"missing part file", "messages:\n  - to: [a@example.com]\n    text: x\n    attach: [{path: missing.bin}]\n", nil},
		{"part without path", "messages:\n  - to: [a@example.com]\n    text: x\n    attach: [{name: x}]\n", resource.ErrEmptyPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewDecoder(t.TempDir(), nil).Decode(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Decode() succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInvalidMessagesStillDecode(t *testing.T) {
	input := "messages:\n  - from: nobody\n    to: [a@example.com]\n    text: x\n  - to: []\n"
	mail, rejected, err := NewDecoder("", nil).Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if mail.Len() != 2 || mail.Valid() {
		t.Fatalf("Len() = %d, Valid() = %v", mail.Len(), mail.Valid())
	}
	if len(rejected) != 1 || rejected[0].Addresses[0] != "nobody" {
		t.Errorf("rejected = %+v", rejected)
	}
}
