package campaign

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// SMTPTransport sends mail through an SMTP server. Port 587 negotiates STARTTLS.
type SMTPTransport struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

// NewSMTPTransport validates cfg and prepares a dialer.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPTransport{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
	}, nil
}

// Send dials the server and delivers msg. gomail has no context support, so
// cancellation abandons the wait rather than the connection.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m := t.compose(msg)
	done := make(chan error, 1)
	go func() { done <- t.dialer.DialAndSend(m) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	}
}

func (t *SMTPTransport) compose(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.from, t.fromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	for _, path := range msg.Attachments {
		m.Attach(path)
	}
	return m
}

// Noop discards messages. It is accepted only in dry-run mode.
type Noop struct{}

// Send does nothing.
func (Noop) Send(context.Context, Message) error { return nil }
