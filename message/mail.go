package message

import "context"

// Sender dispatches an ordered batch and returns one result per message in the same order.
type Sender interface {
	Send(ctx context.Context, messages []Message) []Result
}

// Mail is an ordered batch of messages built on a single goroutine before it
// is handed to a Sender.
type Mail struct {
	messages []Message
}

func NewMail(messages ...Message) *Mail {
	m := &Mail{}
	m.Add(messages...)
	return m
}

func (m *Mail) Add(messages ...Message) *Mail {
	m.messages = append(m.messages, messages...)
	return m
}

func (m *Mail) Len() int {
	return len(m.messages)
}

func (m *Mail) Clear() {
	m.messages = nil
}

// Messages returns a copy of the batch.
func (m *Mail) Messages() []Message {
	return append([]Message(nil), m.messages...)
}

// Valid reports whether every message in the batch is valid.
func (m *Mail) Valid() bool {
	for _, msg := range m.messages {
		if !msg.Valid() {
			return false
		}
	}
	return true
}

// Send hands the batch to sender and clears it afterwards.
func (m *Mail) Send(ctx context.Context, sender Sender) []Result {
	results := sender.Send(ctx, m.Messages())
	m.Clear()
	return results
}
