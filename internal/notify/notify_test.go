package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestVerificationLink(t *testing.T) {
	assert.Equal(t, "https://panel.example/verify-email?token=abc", VerificationLink("https://panel.example/", "abc"))
	assert.Equal(t, "https://panel.example/verify-email?token=a+b", VerificationLink("https://panel.example", "a b"))
}

func TestSMTPMailer_SendVerification(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)

	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example", Port: "587", Sender: "panel@example.com"}, "https://panel.example", nil)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg, gotAuth = addr, to, string(msg), a
		return nil
	}

	err := m.SendVerification(context.Background(), Verification{Email: "user@example.com", Token: "tok-1", UserName: "Ann <b>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example:587", gotAddr)
	assert.Equal(t, []string{"user@example.com"}, gotTo)
	assert.Nil(t, gotAuth)
	assert.Contains(t, gotMsg, "Subject: "+verificationSubject)
	assert.Contains(t, gotMsg, "https://panel.example/verify-email?token=tok-1")
	assert.Contains(t, gotMsg, "Hello Ann &lt;b&gt;,")
}

func TestSMTPMailer_SendError(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example", Port: "25", Username: "u", Password: "p"}, "https://panel.example", nil)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.NotNil(t, a)
		assert.Equal(t, "no-reply@localhost", from)
		return errors.New("connection refused")
	}

	err := m.SendVerification(context.Background(), Verification{Email: "user@example.com", Token: "t"})
	require.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLogNotifier("https://panel.example", zap.New(core))

	require.NoError(t, n.SendVerification(context.Background(), Verification{Email: "user@example.com", Token: "tok"}))

	entries := logs.FilterMessage("verification email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "user@example.com", entries[0].ContextMap()["to"])
	assert.NotContains(t, entries[0].ContextMap(), "verificationURL")

	links := logs.FilterMessage("verification link").All()
	require.Len(t, links, 1)
	assert.Equal(t, zapcore.DebugLevel, links[0].Level)
	assert.Equal(t, "https://panel.example/verify-email?token=tok", links[0].ContextMap()["verificationURL"])
}

func TestLogNotifier_TokenHiddenAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier("https://panel.example", zap.New(core))

	require.NoError(t, n.SendVerification(context.Background(), Verification{Email: "user@example.com", Token: "secret-token"}))

	for _, e := range logs.All() {
		for k, v := range e.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "secret-token", "field %s", k)
		}
	}
}
