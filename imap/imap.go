// Package imap delivers rendered messages into an IMAP mailbox with APPEND
// instead of relaying them.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mailbatch/transport"
)

const DefaultMailbox = "INBOX"

type Options struct {
	UseTLS             bool
	InsecureSkipVerify bool
	// Mailbox is created on connect when missing. Empty means DefaultMailbox.
	Mailbox string
	// Seen stores appended messages with the \Seen flag.
	Seen bool
}

// Transport appends each message to the configured mailbox. The recipient
// list only gates submission; IMAP does not route.
type Transport struct {
	opts    Options
	logger  *slog.Logger
	client  *imapclient.Client
	address string
}

func New(opts Options, logger *slog.Logger) *Transport {
	return &Transport{opts: opts, logger: logger}
}

func Factory(opts Options, logger *slog.Logger) transport.Factory {
	return func() transport.Transport {
		return New(opts, logger)
	}
}

func (t *Transport) Connect(ctx context.Context, opts transport.ConnectOptions) error {
	if t.client != nil {
		return fmt.Errorf("imap %s: already connected", t.address)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.address = opts.Address()

	options := &imapclient.Options{}
	var (
		client *imapclient.Client
		err    error
	)
	if t.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: t.opts.InsecureSkipVerify,
		}
		client, err = imapclient.DialTLS(t.address, options)
	} else {
		client, err = imapclient.DialInsecure(t.address, options)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", t.address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer stopClose()

	if !opts.Anonymous() {
		if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
			_ = client.Close()
			return fmt.Errorf("imap login failed: %w", err)
		}
	}

	if err := t.ensureMailbox(client); err != nil {
		_ = client.Close()
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.client = client
	if t.logger != nil {
		t.logger.Debug("imap connection established", "address", t.address, "user", opts.Username, "mailbox", t.mailbox(), "tls", t.opts.UseTLS)
	}
	return nil
}

func (t *Transport) IsConnected() bool {
	return t.client != nil
}

func (t *Transport) Send(ctx context.Context, env transport.Envelope, recipients []string) error {
	if t.client == nil {
		return transport.ErrNotConnected
	}
	if len(recipients) == 0 {
		return transport.ErrNoRecipients
	}
	if env.Content == nil {
		return transport.ErrNoContent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := env.Content.WriteTo(&buf); err != nil {
		return fmt.Errorf("render message %s: %w", env.MessageID, err)
	}
	if err := t.appendMessage(buf.Bytes(), env); err != nil {
		return fmt.Errorf("append message %s: %w", env.MessageID, err)
	}

	if t.logger != nil {
		t.logger.Debug("appended message", "messageID", env.MessageID, "mailbox", t.mailbox(), "size", buf.Len())
	}
	return nil
}

func (t *Transport) appendMessage(raw []byte, env transport.Envelope) error {
	opts := &imapv2.AppendOptions{}
	if !env.Date.IsZero() {
		opts.Time = env.Date
	}
	if t.opts.Seen {
		opts.Flags = []imapv2.Flag{imapv2.FlagSeen}
	}

	cmd := t.client.Append(t.mailbox(), int64(len(raw)), opts)
	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	if t.client == nil {
		return nil
	}
	client := t.client
	t.client = nil

	var logoutErr error
	if err := client.Logout().Wait(); err != nil {
		logoutErr = fmt.Errorf("imap logout %s: %w", t.address, err)
	}
	if err := client.Close(); err != nil && t.logger != nil {
		t.logger.Debug("imap connection closed", "address", t.address, "err", err)
	}
	return logoutErr
}

func (t *Transport) mailbox() string {
	if t.opts.Mailbox == "" {
		return DefaultMailbox
	}
	return t.opts.Mailbox
}

func (t *Transport) ensureMailbox(client *imapclient.Client) error {
	target := t.mailbox()
	if err := client.Create(target, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if t.logger != nil {
				t.logger.Debug("imap mailbox already exists", "mailbox", target)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if t.logger != nil {
		t.logger.Info("imap mailbox created", "mailbox", target)
	}
	return nil
}
