// Package mail sends outbound email on behalf of other handlers.
//
// Callers never talk to SMTP directly: they send a SendEmailCommand through the
// command dispatcher and this package's handler delivers it.
package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"net/smtp"
	"strings"
	"time"

	"snap/config"
	"snap/dispatch"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoRecipient     = errors.New("no recipient specified")
	ErrInvalidAddress  = errors.New("invalid email address")
	ErrHeaderInjection = errors.New("header value contains line breaks")
)

// SendEmailCommand asks for one plain-text message to be delivered
type SendEmailCommand struct {
	To      string
	Subject string
	Body    string
}

// SendEmailResult identifies the delivered message
type SendEmailResult struct {
	MessageID string
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Handler delivers SendEmailCommand over SMTP. When mail is disabled the
// message is logged instead.
type Handler struct {
	cfg    config.MailConfig
	logger *zap.SugaredLogger
	send   SendFunc
	now    func() time.Time
}

// NewHandler creates a handler using smtp.SendMail
func NewHandler(cfg config.MailConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{cfg: cfg, logger: logger, send: smtp.SendMail, now: time.Now}
}

// WithSender replaces the transport
func (h *Handler) WithSender(send SendFunc) *Handler {
	h.send = send
	return h
}

// Registrations returns the dispatcher registrations owned by this package
func Registrations(h *Handler) []dispatch.Registration {
	return []dispatch.Registration{
		func(d *dispatch.Dispatcher) error {
			return dispatch.Handle(d, h.Handle)
		},
	}
}

// Handle validates and delivers cmd
func (h *Handler) Handle(ctx context.Context, cmd SendEmailCommand) (SendEmailResult, error) {
	if strings.TrimSpace(cmd.To) == "" {
		return SendEmailResult{}, ErrNoRecipient
	}
	to, err := netmail.ParseAddress(cmd.To)
	if err != nil {
		return SendEmailResult{}, fmt.Errorf("%w: %s", ErrInvalidAddress, cmd.To)
	}
	if strings.ContainsAny(cmd.Subject, "\r\n") {
		return SendEmailResult{}, ErrHeaderInjection
	}
	if err := ctx.Err(); err != nil {
		return SendEmailResult{}, err
	}

	host := "snap.local"
	if h.cfg.SMTPHost != "" {
		host = h.cfg.SMTPHost
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)

	if !h.cfg.Enabled {
		h.logger.Infow("Mail disabled, message not sent",
			"to", to.Address,
			"subject", cmd.Subject,
			"message_id", id)
		return SendEmailResult{MessageID: id}, nil
	}

	msg := h.compose(to.Address, cmd.Subject, cmd.Body, id)

	var auth smtp.Auth
	if h.cfg.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", h.cfg.SMTPHost, h.cfg.SMTPPort)
	if err := h.send(addr, auth, h.cfg.From, []string{to.Address}, msg); err != nil {
		return SendEmailResult{}, fmt.Errorf("failed to send email to %s: %w", to.Address, err)
	}

	h.logger.Infow("Sent email", "to", to.Address, "message_id", id)
	return SendEmailResult{MessageID: id}, nil
}

func (h *Handler) compose(to, subject, body, id string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", h.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	fmt.Fprintf(&b, "Date: %s\r\n", h.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
