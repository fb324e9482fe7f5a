// Package transport defines the outbound connection used by the dispatcher
// and provides an SMTP implementation.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrNoRecipients = errors.New("envelope has no recipients")
	ErrNoContent    = errors.New("envelope has no content")
)

// ConnectOptions carries the relay coordinates for Connect.
type ConnectOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// Timeout bounds dialing and each protocol exchange. Zero disables it.
	Timeout time.Duration
}

func (o ConnectOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Anonymous reports whether no username is configured.
func (o ConnectOptions) Anonymous() bool {
	return strings.TrimSpace(o.Username) == ""
}

// Envelope is one rendered message ready for submission.
type Envelope struct {
	From      string
	MessageID string
	Date      time.Time
	Content   io.WriterTo
}

// Transport is an outbound connection. A Transport is used by one goroutine at a time.
type Transport interface {
	// Connect establishes the connection. It is called at most once.
	Connect(ctx context.Context, opts ConnectOptions) error
	IsConnected() bool
	// Send submits env to recipients.
	Send(ctx context.Context, env Envelope, recipients []string) error
	Close() error
}

// Factory returns a new, unconnected Transport.
type Factory func() Transport

func validate(env Envelope, recipients []string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if env.Content == nil {
		return ErrNoContent
	}
	return nil
}
