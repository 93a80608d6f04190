// Package mail defines the message handed to a mailer and the Sender
// contract the worker delivers through.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoRecipients is returned for a message without recipients.
var ErrNoRecipients = errors.New("message has no recipients")

// Message is the payload of a queued send job.
type Message struct {
	Mailer  string   `json:"mailer,omitempty"`
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body,omitempty"`
}

// MailerName returns the mailer the message was addressed to.
func (m Message) MailerName() string {
	return m.Mailer
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// Sender delivers a message through a mailer.
type Sender interface {
	Send(ctx context.Context, mailer string, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, mailer string, msg Message) error

func (f SenderFunc) Send(ctx context.Context, mailer string, msg Message) error {
	return f(ctx, mailer, msg)
}

// LogSender records each message in the log instead of delivering it.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, mailer string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Mail sent",
		"mailer", mailer,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return nil
}
