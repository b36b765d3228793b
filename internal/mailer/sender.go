// Package mailer renders order notifications and delivers them.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"fulfillment/internal/config"
)

// ErrSend the message could not be handed to the relay
var ErrSend = errors.New("notification send failed")

// Sender delivers one HTML message
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends through an SMTP relay with PLAIN auth
type SMTPSender struct {
	addr     string
	host     string
	from     string
	fromName string
	auth     smtp.Auth
	sendMail sendMailFunc
}

// NewSMTPSender creates a sender from the mail configuration
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail host not set")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail sender address not set")
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		from:     cfg.From,
		fromName: cfg.FromName,
		auth:     auth,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: empty recipient", ErrSend)
	}

	if err := s.sendMail(s.addr, s.auth, s.from, []string{to}, s.buildMessage(to, subject, html)); err != nil {
		return fmt.Errorf("%w: smtp %s: %v", ErrSend, s.addr, err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(to, subject, html string) []byte {
	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.fromName), s.from)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

// Sent is a message captured by Outbox
type Sent struct {
	To      string
	Subject string
	HTML    string
}

// Outbox is an in-memory Sender for local runs and tests
type Outbox struct {
	mu   sync.Mutex
	sent []Sent
	err  error
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Fail makes subsequent sends fail with err; nil restores delivery
func (o *Outbox) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Outbox) Send(ctx context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return fmt.Errorf("%w: %v", ErrSend, o.err)
	}
	o.sent = append(o.sent, Sent{To: to, Subject: subject, HTML: html})
	return nil
}

// Messages returns a copy of everything sent
func (o *Outbox) Messages() []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Sent(nil), o.sent...)
}
