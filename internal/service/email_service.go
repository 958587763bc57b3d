package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog/log"
)

// Mailer sends account emails
type Mailer interface {
	IsEnabled() bool
	SendPasswordResetEmail(ctx context.Context, toEmail, toName, token string) error
	SendPasswordSetupEmail(ctx context.Context, toEmail, toName, token string) error
}

// sesSender is the subset of the SES client used here
type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService handles sending emails via Amazon SES
type EmailService struct {
	client     sesSender
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	debug      bool
}

// NewEmailService creates a new email service. Without a sender address the service is
// disabled and every send is a logged no-op.
func NewEmailService(ctx context.Context, awsRegion, fromEmail, fromName, appBaseURL string, debug bool) (*EmailService, error) {
	if fromEmail == "" {
		log.Info().Msg("Email service disabled: SES_FROM_EMAIL not configured")
		return &EmailService{appBaseURL: appBaseURL, debug: debug}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info().Str("from", fromEmail).Str("region", awsRegion).Msg("Email service enabled")

	return &EmailService{
		client:     sesv2.NewFromConfig(cfg),
		fromEmail:  fromEmail,
		fromName:   fromName,
		appBaseURL: appBaseURL,
		enabled:    true,
		debug:      debug,
	}, nil
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendPasswordResetEmail sends a password reset email with a reset link
func (s *EmailService) SendPasswordResetEmail(ctx context.Context, toEmail, toName, token string) error {
	msg := accountEmail{
		Subject: "Reset your Family Tasks password",
		Heading: "Password Reset Request",
		Name:    toName,
		Intro:   "We received a request to reset the password for your Family Tasks account.",
		Action:  "Reset Password",
		Link:    s.passwordLink(token),
		Expiry:  "This link will expire in 1 hour.",
		Outro:   "If you didn't request a password reset, you can safely ignore this email.",
	}
	return s.send(ctx, toEmail, msg)
}

// SendPasswordSetupEmail asks an account without a password to choose one
func (s *EmailService) SendPasswordSetupEmail(ctx context.Context, toEmail, toName, token string) error {
	msg := accountEmail{
		Subject: "Set a password for Family Tasks",
		Heading: "Choose Your Password",
		Name:    toName,
		Intro:   "Your Family Tasks account needs a password before you can sign in.",
		Action:  "Set Password",
		Link:    s.passwordLink(token),
		Expiry:  "This link will expire in 3 days.",
		Outro:   "If you weren't expecting this email, you can safely ignore it.",
	}
	return s.send(ctx, toEmail, msg)
}

func (s *EmailService) passwordLink(token string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", s.appBaseURL, url.QueryEscape(token))
}

func (s *EmailService) send(ctx context.Context, toEmail string, msg accountEmail) error {
	if !s.enabled {
		log.Info().Str("subject", msg.Subject).Msg("Skipping email send (service disabled)")
		if s.debug {
			log.Debug().Str("to", toEmail).Str("link", msg.Link).Msg("Email link")
		}
		return nil
	}

	htmlBody, textBody, err := msg.render()
	if err != nil {
		return err
	}
	return s.sendEmail(ctx, toEmail, msg.Subject, htmlBody, textBody)
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	event := log.Info().Str("subject", subject)
	if result != nil && result.MessageId != nil {
		event = event.Str("message_id", *result.MessageId)
	}
	event.Msg("Email sent")
	return nil
}

type accountEmail struct {
	Subject string
	Heading string
	Name    string
	Intro   string
	Action  string
	Link    string
	Expiry  string
	Outro   string
}

var accountEmailHTML = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #2f855a; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.button { display: inline-block; padding: 12px 30px; background-color: #2f855a; color: white; text-decoration: none; border-radius: 5px; margin: 20px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header"><h1>{{.Heading}}</h1></div>
		<div class="content">
			<p>Hi {{.Name}},</p>
			<p>{{.Intro}}</p>
			<p style="text-align: center;"><a href="{{.Link}}" class="button">{{.Action}}</a></p>
			<p>Or copy and paste this link into your browser:</p>
			<p style="word-break: break-all; font-size: 12px; color: #666;">{{.Link}}</p>
			<p><strong>{{.Expiry}}</strong></p>
			<p>{{.Outro}}</p>
		</div>
		<div class="footer"><p>This is an automated email from Family Tasks. Please do not reply.</p></div>
	</div>
</body>
</html>
`))

func (m accountEmail) render() (string, string, error) {
	var buf bytes.Buffer
	if err := accountEmailHTML.Execute(&buf, m); err != nil {
		return "", "", fmt.Errorf("failed to render email: %w", err)
	}

	text := fmt.Sprintf(`Hi %s,

%s

%s:
%s

%s

%s

---
This is an automated email from Family Tasks. Please do not reply.
`, m.Name, m.Intro, m.Action, m.Link, m.Expiry, m.Outro)

	return buf.String(), text, nil
}
