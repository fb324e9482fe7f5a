package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// TLSMode selects how the SMTP connection is secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
)

// ParseTLSMode accepts none, starttls and tls (case insensitive).
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case TLSNone, TLSStartTLS, TLSImplicit:
		return mode, nil
	case "":
		return TLSStartTLS, nil
	default:
		return "", fmt.Errorf("unknown tls mode %q", s)
	}
}

type SMTPOptions struct {
	TLS                TLSMode
	InsecureSkipVerify bool
	// LocalName is sent in EHLO; go-smtp defaults to localhost.
	LocalName string
}

// SMTP submits messages to a relay with go-smtp.
type SMTP struct {
	opts   SMTPOptions
	logger *slog.Logger

	client    *smtp.Client
	address   string
	connected bool
}

func NewSMTP(opts SMTPOptions, logger *slog.Logger) *SMTP {
	if opts.TLS == "" {
		opts.TLS = TLSStartTLS
	}
	return &SMTP{opts: opts, logger: logger}
}

// SMTPFactory returns a Factory producing SMTP transports sharing opts.
func SMTPFactory(opts SMTPOptions, logger *slog.Logger) Factory {
	return func() Transport {
		return NewSMTP(opts, logger)
	}
}

func (s *SMTP) Connect(ctx context.Context, opts ConnectOptions) error {
	if s.client != nil {
		return fmt.Errorf("smtp %s: already connected", s.address)
	}
	s.address = opts.Address()

	dialer := &net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", s.address, err)
	}

	tlsConfig := &tls.Config{
		ServerName:         opts.Host,
		InsecureSkipVerify: s.opts.InsecureSkipVerify,
	}

	var client *smtp.Client
	switch s.opts.TLS {
	case TLSImplicit:
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case TLSStartTLS:
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("smtp starttls %s: %w", s.address, err)
		}
	default:
		client = smtp.NewClient(conn)
	}

	if opts.Timeout > 0 {
		client.CommandTimeout = opts.Timeout
		client.SubmissionTimeout = opts.Timeout
	}

	if s.opts.LocalName != "" && s.opts.TLS != TLSStartTLS {
		if err := client.Hello(s.opts.LocalName); err != nil {
			_ = client.Close()
			return fmt.Errorf("smtp hello %s: %w", s.address, err)
		}
	}

	if !opts.Anonymous() {
		auth := sasl.NewPlainClient("", strings.TrimSpace(opts.Username), opts.Password)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return fmt.Errorf("smtp auth %s: %w", s.address, err)
		}
	} else if err := client.Noop(); err != nil {
		_ = client.Close()
		return fmt.Errorf("smtp greeting %s: %w", s.address, err)
	}

	s.client = client
	s.connected = true
	if s.logger != nil {
		s.logger.Debug("smtp connection established", "address", s.address, "tls", s.opts.TLS, "anonymous", opts.Anonymous())
	}
	return nil
}

func (s *SMTP) IsConnected() bool {
	return s.connected && s.client != nil
}

func (s *SMTP) Send(ctx context.Context, env Envelope, recipients []string) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if err := validate(env, recipients); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.submit(env, recipients); err != nil {
		if resetErr := s.client.Reset(); resetErr != nil {
			s.connected = false
			if s.logger != nil {
				s.logger.Warn("smtp reset failed, dropping connection", "address", s.address, "err", resetErr)
			}
		}
		return err
	}
	return nil
}

func (s *SMTP) submit(env Envelope, recipients []string) error {
	if err := s.client.Mail(env.From, nil); err != nil {
		return fmt.Errorf("smtp mail from %s: %w", env.From, err)
	}
	for _, rcpt := range recipients {
		if err := s.client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := env.Content.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return nil
}

func (s *SMTP) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	s.connected = false

	if err := client.Quit(); err != nil {
		_ = client.Close()
		return fmt.Errorf("smtp quit %s: %w", s.address, err)
	}
	return nil
}
