package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSink delivers the message as an email through an SMTP relay.
type SMTPSink struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPSink creates an SMTP sink. Port defaults to 587; PLAIN auth is used
// when a username is configured.
func NewSMTPSink(cfg types.SinkConfig) (*SMTPSink, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	s := &SMTPSink{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:     cfg.Host,
		from:     cfg.From,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *SMTPSink) Name() string { return "smtp" }

// Send builds a MIME message and hands it to the relay.
func (s *SMTPSink) Send(ctx context.Context, msg *types.Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("no recipient configured")
	}
	raw, err := buildMIME(s.from, msg.Recipient, msg, s.now())
	if err != nil {
		return fmt.Errorf("building email: %w", err)
	}

	// smtp.SendMail has no context; run it aside so cancellation is honoured.
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, s.from, []string{msg.Recipient}, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp delivery to %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp delivery to %s: %w", s.addr, ctx.Err())
	}
}
