package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/soihtufest/soihtufest-backend/pkg/config"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

// Message is one outbound plain-text mail.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers a message. Errors are classified: a transient error means
// the same message may be retried, a fatal one means it never should be.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "context cancelled")
	}
	if msg.To == "" || msg.From == "" {
		return pkgerrors.New(pkgerrors.CodeDeliveryFatal, "mail requires from and to addresses")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, msg.From, []string{msg.To}, BuildMessage(msg)); err != nil {
		return classify(err)
	}
	return nil
}

// BuildMessage renders the RFC 5322 byte form of a message. The subject is
// Q-encoded so non-ASCII survives transport.
func BuildMessage(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// classify maps an SMTP failure to the delivery taxonomy. Permanent SMTP
// rejections (5xx) are fatal; temporary rejections (4xx) and any transport
// level failure are transient and worth retrying.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return pkgerrors.Wrap(pkgerrors.CodeDeliveryFatal, err, "mail rejected permanently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "mail rejected temporarily")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "mail transport failure")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "mail delivery failure")
}
