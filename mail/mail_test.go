package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"snap/config"
	"snap/dispatch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type captured struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func enabledConfig() config.MailConfig {
	return config.MailConfig{
		Enabled:  true,
		SMTPHost: "smtp.example.com",
		SMTPPort: 2525,
		Username: "mailer",
		Password: "pw",
		From:     "no-reply@snap.local",
	}
}

func TestHandle_Sends(t *testing.T) {
	var got captured
	h := NewHandler(enabledConfig(), zaptest.NewLogger(t).Sugar()).WithSender(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			got = captured{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
			return nil
		})
	h.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	res, err := h.Handle(context.Background(), SendEmailCommand{
		To:      "Alice <alice@example.com>",
		Subject: "Welcome",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.MessageID, "@smtp.example.com>"))
	assert.Equal(t, "smtp.example.com:2525", got.addr)
	assert.NotNil(t, got.auth)
	assert.Equal(t, "no-reply@snap.local", got.from)
	assert.Equal(t, []string{"alice@example.com"}, got.to)
	assert.Contains(t, got.msg, "Subject: Welcome\r\n")
	assert.Contains(t, got.msg, "Message-ID: "+res.MessageID)
	assert.Contains(t, got.msg, "Date: Sat, 01 Mar 2025 12:00:00 +0000")
	assert.True(t, strings.HasSuffix(got.msg, "line one\r\nline two"))
}

func TestHandle_Disabled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(config.MailConfig{}, zap.New(core).Sugar()).WithSender(
		func(string, smtp.Auth, string, []string, []byte) error {
			t.Fatal("transport must not be used while mail is disabled")
			return nil
		})

	res, err := h.Handle(context.Background(), SendEmailCommand{To: "bob@example.com", Subject: "Hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, 1, logs.FilterMessage("Mail disabled, message not sent").Len())
}

func TestHandle_Rejects(t *testing.T) {
	h := NewHandler(enabledConfig(), zaptest.NewLogger(t).Sugar())

	tests := []struct {
		name string
		cmd  SendEmailCommand
		want error
	}{
		{name: "no recipient", cmd: SendEmailCommand{To: " "}, want: ErrNoRecipient},
		{name: "bad address", cmd: SendEmailCommand{To: "not-an-address"}, want: ErrInvalidAddress},
		{name: "header injection", cmd: SendEmailCommand{To: "a@example.com", Subject: "x\r\nBcc: evil@example.com"}, want: ErrHeaderInjection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandle_TransportError(t *testing.T) {
	h := NewHandler(enabledConfig(), zaptest.NewLogger(t).Sugar()).WithSender(
		func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		})

	_, err := h.Handle(context.Background(), SendEmailCommand{To: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRegistrations(t *testing.T) {
	d := dispatch.New(zaptest.NewLogger(t).Sugar())
	h := NewHandler(config.MailConfig{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, d.Apply(Registrations(h)...))

	res, err := dispatch.Send[SendEmailResult](context.Background(), d, SendEmailCommand{To: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
}
