package message

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func mustBuild(t *testing.T, b *Builder) Message {
	t.Helper()
	msg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return msg
}

func TestTextMessageValidity(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		want    bool
	}{
		{
			name:    "valid",
			builder: New().From("a@example.com").To("b@example.com").Text("hi"),
			want:    true,
		},
		{
			name:    "bad from",
			builder: New().From("not-an-email").To("b@example.com").Text("hi"),
			want:    false,
		},
		{
			name:    "no recipients",
			builder: New().From("a@example.com").Text("hi"),
			want:    false,
		},
		{
			name:    "only invalid recipients",
			builder: New().From("a@example.com").To("nope", "").Text("hi"),
			want:    false,
		},
		{
			name:    "no body",
			builder: New().From("a@example.com").To("b@example.com"),
			want:    false,
		},
		{
			name:    "empty text is still a body",
			builder: New().From("a@example.com").To("b@example.com").Text(""),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := mustBuild(t, tt.builder)
			if got := msg.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMimeBodyValidity(t *testing.T) {
	empty, err := NewMimeBody().AttachBytes("a.bin", []byte{1}, "").Build()
	if err != nil {
		t.Fatal(err)
	}
	if empty.valid() {
		t.Error("body with only attachments must be invalid")
	}

	htmlOnly, err := NewMimeBody().HTML("<b>x</b>").Build()
	if err != nil {
		t.Fatal(err)
	}
	msg := mustBuild(t, New().From("a@example.com").To("b@example.com").Mime(htmlOnly))
	if !msg.Valid() {
		t.Fatal("html only body must be valid")
	}
	text, ok := msg.Text()
	if !ok || text != "" {
		t.Errorf("Text() = %q, %v; want empty renderable text", text, ok)
	}
}

func TestMimeBodyPartsOverwriteByName(t *testing.T) {
	body, err := NewMimeBody().
		Text("hello").
		AttachBytes("a.txt", []byte("one"), "").
		AttachBytes("b.txt", []byte("two"), "").
		AttachBytes("a.txt", []byte("three"), "").
		InlineBytes("a.txt", []byte("inline"), "").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	attach := body.Attachments()
	if len(attach) != 2 {
		t.Fatalf("len(Attachments()) = %d, want 2", len(attach))
	}
	if attach[0].Name != "a.txt" || attach[1].Name != "b.txt" {
		t.Errorf("order = %s, %s", attach[0].Name, attach[1].Name)
	}
	if len(body.Inline()) != 1 {
		t.Errorf("inline and attachment names must not collide")
	}
	if !body.HasParts() {
		t.Error("HasParts() = false")
	}
}

func TestBuildIsolatesMessages(t *testing.T) {
	b := New().From("a@example.com").To("b@example.com").Text("x")
	first := mustBuild(t, b)
	b.To("c@example.com")
	second := mustBuild(t, b)

	if first.To.Len() != 1 {
		t.Errorf("first message changed: %v", first.To.Values())
	}
	if second.To.Len() != 2 {
		t.Errorf("second message = %v", second.To.Values())
	}
}

func TestBuildReportsReaderErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := New().From("a@example.com").TextFrom(iotest.ErrReader(boom)).Build()
	if !errors.Is(err, boom) {
		t.Fatalf("Build() error = %v, want %v", err, boom)
	}

	_, err = NewMimeBody().HTMLFrom(iotest.ErrReader(boom)).Build()
	if !errors.Is(err, boom) {
		t.Fatalf("MimeBodyBuilder.Build() error = %v, want %v", err, boom)
	}
}

func TestDefaults(t *testing.T) {
	msg := mustBuild(t, New().From("a@example.com").To("b@example.com").Text("x"))
	if msg.SubjectOrDefault() != DefaultSubject {
		t.Errorf("SubjectOrDefault() = %q", msg.SubjectOrDefault())
	}
	if msg.ReplyToOrFrom() != "a@example.com" {
		t.Errorf("ReplyToOrFrom() = %q", msg.ReplyToOrFrom())
	}
}

func TestRecipientsAreDistinct(t *testing.T) {
	msg := mustBuild(t, New().
		From("a@example.com").
		To("b@example.com", "c@example.com").
		CC("c@example.com").
		BCC("b@example.com", "d@example.com").
		Text("x"))
	got := strings.Join(msg.Recipients(), ",")
	if got != "b@example.com,c@example.com,d@example.com" {
		t.Errorf("Recipients() = %s", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := mustBuild(t, New().From("a@example.com").To("b@example.com").Subject("s").Date(date).Text("x"))
	b := mustBuild(t, New().From("a@example.com").To("b@example.com").Subject("s").Text("x"))
	c := mustBuild(t, New().From("a@example.com").To("b@example.com").Subject("s").Text("y"))

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint must not depend on date")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("fingerprint must depend on body")
	}
}

func TestResult(t *testing.T) {
	attempted := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	failed := Failed("connection refused", attempted)
	if failed.Success() || failed.Diagnostic() != "connection refused" || !failed.Timestamp().Equal(attempted) {
		t.Errorf("Failed() = %+v", failed)
	}
	if !strings.HasSuffix(failed.ID(), ".UNKNOWN>") || !strings.HasPrefix(failed.ID(), "<") {
		t.Errorf("placeholder id = %q", failed.ID())
	}

	now := time.Now()
	ok := Delivered("<id@example.com>", now)
	if !ok.Success() || ok.ID() != "<id@example.com>" || !ok.Timestamp().Equal(now) {
		t.Errorf("Delivered() = %+v", ok)
	}
	if Delivered("", now).ID() == "" {
		t.Error("Delivered without id must get a placeholder")
	}
}

type recordingSender struct {
	got []Message
}

func (r *recordingSender) Send(_ context.Context, messages []Message) []Result {
	r.got = messages
	out := make([]Result, len(messages))
	for i := range messages {
		out[i] = Delivered("", time.Now())
	}
	return out
}

func TestMailSendClears(t *testing.T) {
	mail := NewMail(
		mustBuild(t, New().From("a@example.com").To("b@example.com").Text("1")),
		mustBuild(t, New().From("a@example.com").To("b@example.com").Text("2")),
	)
	if !mail.Valid() {
		t.Fatal("batch should be valid")
	}

	sender := &recordingSender{}
	results := mail.Send(context.Background(), sender)
	if len(results) != 2 || len(sender.got) != 2 {
		t.Fatalf("results = %d, sent = %d", len(results), len(sender.got))
	}
	if mail.Len() != 0 {
		t.Errorf("Len() after Send = %d, want 0", mail.Len())
	}
}
