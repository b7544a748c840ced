package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageComposer_Confirmation(t *testing.T) {
	composer := NewMessageComposer("https://accounts.example.com/")
	issued := &IssuedToken{
		Account: &models.Account{Username: "alice", Email: "alice@x.com"},
		Token:   "abc-123_XYZ",
	}

	msg, err := composer.Confirmation(issued)

	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", msg.To)
	assert.Equal(t, "Confirm your account", msg.Subject)
	assert.Contains(t, msg.Body, "Hello alice,")
	assert.Contains(t, msg.Body, "https://accounts.example.com/auth/confirm/abc-123_XYZ")
	assert.NotContains(t, msg.Body, "Confirm your account", "subject line is not repeated in the body")
}

func TestMessageComposer_Reset(t *testing.T) {
	composer := NewMessageComposer("http://localhost:8080")
	issued := &IssuedToken{
		Account: &models.Account{Username: "bob", Email: "bob@x.com"},
		Token:   "tok",
	}

	msg, err := composer.Reset(issued, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, "Reset your password", msg.Subject)
	assert.Contains(t, msg.Body, "http://localhost:8080/auth/reset/tok")
	assert.Contains(t, msg.Body, "expires in 24 hours")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "24 hours", humanDuration(24*time.Hour))
	assert.Equal(t, "30 minutes", humanDuration(30*time.Minute))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
}

func TestLogMailer_Send(t *testing.T) {
	var buf bytes.Buffer
	mailer := NewLogMailer(slog.New(slog.NewTextHandler(&buf, nil)))

	err := mailer.Send(context.Background(), Message{
		To:      "alice@x.com",
		Subject: "Hi",
		Body:    "Reset here: http://localhost/auth/reset/SECRETTOKEN",
	})

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "subject=Hi")
	assert.Contains(t, out, "a****@")
	assert.NotContains(t, out, "alice@x.com")
	assert.NotContains(t, out, "SECRETTOKEN")
}

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNotifier(t *testing.T) {
	issued := &IssuedToken{
		Account: &models.Account{ID: "acc-1", Username: "alice", Email: "alice@x.com"},
		Token:   "T1",
	}

	t.Run("confirmation and reset", func(t *testing.T) {
		mailer := &recordingMailer{}
		notifier := NewNotifier(NewMessageComposer("http://localhost"), mailer, 2*time.Hour, NewTestLogger())

		require.NoError(t, notifier.SendConfirmation(context.Background(), issued))
		require.NoError(t, notifier.SendReset(context.Background(), issued))

		require.Len(t, mailer.sent, 2)
		assert.Contains(t, mailer.sent[0].Body, "/auth/confirm/T1")
		assert.Contains(t, mailer.sent[1].Body, "/auth/reset/T1")
		assert.Contains(t, mailer.sent[1].Body, "2 hours")
	})

	t.Run("mailer failure is returned", func(t *testing.T) {
		mailer := &recordingMailer{err: assert.AnError}
		notifier := NewNotifier(NewMessageComposer("http://localhost"), mailer, time.Hour, NewTestLogger())

		err := notifier.SendConfirmation(context.Background(), issued)

		assert.ErrorIs(t, err, assert.AnError)
	})
}
