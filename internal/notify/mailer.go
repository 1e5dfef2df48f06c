package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers emails.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// sesAPI is the part of the SES v2 client the mailer uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends through Amazon SES v2.
type SESMailer struct {
	client    sesAPI
	fromEmail string
	fromName  string
	log       *zap.Logger
}

// NewMailer returns an SES mailer, or a LogMailer when fromEmail is empty so
// development setups need no AWS credentials.
func NewMailer(ctx context.Context, region, fromEmail, fromName string, log *zap.Logger) (Mailer, error) {
	if fromEmail == "" {
		log.Info("email delivery disabled: SES_FROM_EMAIL not configured")
		return LogMailer{log: log}, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Info("email delivery enabled", zap.String("from", fromEmail), zap.String("region", region))
	return &SESMailer{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		log:       log,
	}, nil
}

// Send delivers e through SES.
func (m *SESMailer) Send(ctx context.Context, e Email) error {
	from := m.fromEmail
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)
	}
	body := &types.Body{
		Text: &types.Content{Data: aws.String(e.Text), Charset: aws.String("UTF-8")},
	}
	if e.HTML != "" {
		body.Html = &types.Content{Data: aws.String(e.HTML), Charset: aws.String("UTF-8")}
	}
	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", e.To, err)
	}
	m.log.Info("email sent",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

// LogMailer only logs what would have been sent.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer returns a mailer that writes to log.
func NewLogMailer(log *zap.Logger) LogMailer { return LogMailer{log: log} }

func (m LogMailer) Send(_ context.Context, e Email) error {
	m.log.Info("email skipped (delivery disabled)", zap.String("to", e.To), zap.String("subject", e.Subject))
	return nil
}
