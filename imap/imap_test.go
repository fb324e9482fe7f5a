package imap

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/dhcgn/mailbatch/transport"
)

const (
	testUser = "archive"
	testPass = "secret"
)

func startServer(t *testing.T) transport.ConnectOptions {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create INBOX: %v", err)
	}
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})

	host, portText, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portText)
	return transport.ConnectOptions{Host: host, Port: port, Username: testUser, Password: testPass}
}

type rawContent string

func (r rawContent) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, string(r))
	return int64(n), err
}

const sample = "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n\r\nhello\r\n"

func countMessages(t *testing.T, opts transport.ConnectOptions, mailbox string) uint32 {
	t.Helper()
	client, err := imapclient.DialInsecure(opts.Address(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		t.Fatalf("login: %v", err)
	}
	data, err := client.Status(mailbox, &imapv2.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		t.Fatalf("status %s: %v", mailbox, err)
	}
	if data.NumMessages == nil {
		t.Fatal("status returned no message count")
	}
	return *data.NumMessages
}

func TestAppendCreatesMailbox(t *testing.T) {
	opts := startServer(t)

	tr := New(Options{Mailbox: "Sent", Seen: true}, nil)
	if err := tr.Connect(context.Background(), opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	env := transport.Envelope{
		From:      "a@example.com",
		MessageID: "<1@example.com>",
		Date:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Content:   rawContent(sample),
	}
	for i := 0; i < 3; i++ {
		if err := tr.Send(context.Background(), env, []string{"b@example.com"}); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	if got := countMessages(t, opts, "Sent"); got != 3 {
		t.Errorf("Sent holds %d messages, want 3", got)
	}
}

func TestConnectExistingMailbox(t *testing.T) {
	opts := startServer(t)

	tr := New(Options{}, nil)
	if err := tr.Connect(context.Background(), opts); err != nil {
		t.Fatalf("Connect() to existing INBOX error = %v", err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), transport.Envelope{Content: rawContent(sample)}, []string{"b@example.com"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := countMessages(t, opts, DefaultMailbox); got != 1 {
		t.Errorf("INBOX holds %d messages, want 1", got)
	}
}

func TestConnectBadLogin(t *testing.T) {
	opts := startServer(t)
	opts.Password = "wrong"

	tr := New(Options{}, nil)
	if err := tr.Connect(context.Background(), opts); err == nil {
		t.Fatal("Connect() succeeded with wrong password")
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after failed login")
	}
}

func TestSendValidation(t *testing.T) {
	tr := New(Options{}, nil)
	err := tr.Send(context.Background(), transport.Envelope{Content: rawContent(sample)}, []string{"b@example.com"})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Send() unconnected error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() unconnected = %v", err)
	}

	opts := startServer(t)
	if err := tr.Connect(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), transport.Envelope{Content: rawContent(sample)}, nil); !errors.Is(err, transport.ErrNoRecipients) {
		t.Errorf("Send() without recipients error = %v", err)
	}
	if err := tr.Send(context.Background(), transport.Envelope{}, []string{"b@example.com"}); !errors.Is(err, transport.ErrNoContent) {
		t.Errorf("Send() without content error = %v", err)
	}
}
