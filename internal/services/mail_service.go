package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/rpiotaix/userbundle/pkg/logger"
)

// Message is one outgoing email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers composed messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// The first line of each template is the subject, the rest is the body.
const confirmationTemplate = `Confirm your account
Hello {{.Username}},

To finish creating your account, open the link below:

{{.URL}}

If you did not sign up, you can ignore this email.
`

const resetTemplate = `Reset your password
Hello {{.Username}},

A password reset was requested for your account. To choose a new password, open the link below:

{{.URL}}

This link expires in {{.TTL}}. If you did not request a reset, you can ignore this email and your password stays unchanged.
`

type mailData struct {
	Username string
	URL      string
	TTL      string
}

// MessageComposer renders the confirmation and reset emails
type MessageComposer struct {
	baseURL      string
	confirmation *template.Template
	reset        *template.Template
}

func NewMessageComposer(baseURL string) *MessageComposer {
	return &MessageComposer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		confirmation: template.Must(template.New("confirmation").Parse(confirmationTemplate)),
		reset:        template.Must(template.New("reset").Parse(resetTemplate)),
	}
}

// Confirmation builds the message carrying a confirmation link
func (c *MessageComposer) Confirmation(issued *IssuedToken) (Message, error) {
	return c.render(c.confirmation, issued.Account.Email, mailData{
		Username: issued.Account.Username,
		URL:      c.baseURL + "/auth/confirm/" + url.PathEscape(issued.Token),
	})
}

// Reset builds the message carrying a reset link valid for ttl
func (c *MessageComposer) Reset(issued *IssuedToken, ttl time.Duration) (Message, error) {
	return c.render(c.reset, issued.Account.Email, mailData{
		Username: issued.Account.Username,
		URL:      c.baseURL + "/auth/reset/" + url.PathEscape(issued.Token),
		TTL:      humanDuration(ttl),
	})
}

func (c *MessageComposer) render(tmpl *template.Template, to string, data mailData) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s email: %w", tmpl.Name(), err)
	}

	subject, body, _ := strings.Cut(buf.String(), "\n")
	return Message{
		To:      to,
		Subject: strings.TrimSpace(subject),
		Body:    body,
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.sesClient.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogMailer logs that a message would have been sent; for local runs. The
// body carries a live token, so only its size is recorded.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email not sent (log transport)",
		slog.String("to", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

// Notifier composes and delivers the confirmation and reset emails for
// tokens handed out by CredentialService.
type Notifier struct {
	composer *MessageComposer
	mailer   Mailer
	resetTTL time.Duration
	logger   *slog.Logger
}

func NewNotifier(composer *MessageComposer, mailer Mailer, resetTTL time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		composer: composer,
		mailer:   mailer,
		resetTTL: resetTTL,
		logger:   logger,
	}
}

// SendConfirmation mails the confirmation link for issued
func (n *Notifier) SendConfirmation(ctx context.Context, issued *IssuedToken) error {
	msg, err := n.composer.Confirmation(issued)
	if err != nil {
		return err
	}
	return n.deliver(ctx, issued, msg)
}

// SendReset mails the reset link for issued
func (n *Notifier) SendReset(ctx context.Context, issued *IssuedToken) error {
	msg, err := n.composer.Reset(issued, n.resetTTL)
	if err != nil {
		return err
	}
	return n.deliver(ctx, issued, msg)
}

func (n *Notifier) deliver(ctx context.Context, issued *IssuedToken, msg Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Error("failed to deliver email",
			slog.String("account_id", issued.Account.ID),
			slog.String("subject", msg.Subject),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
