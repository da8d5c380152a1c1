package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

type EmailService struct {
	client    *resend.Client
	fromEmail string
	isDev     bool
	appURL    string
	appName   string
}

func NewEmailService(apiKey, fromEmail, appURL, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		isDev:     isDev,
		appURL:    appURL,
		appName:   appName,
	}
}

// SendExpiryNotice warns an owner that a stored design is about to be removed.
func (s *EmailService) SendExpiryNotice(ctx context.Context, email, fileURL string, expiresAt time.Time) error {
	subject, body := expiryNoticeEmailTemplate(fileURL, expiresAt, s.appURL, s.appName)

	if s.isDev {
		slog.Info("email sent (dev mode)", "type", "expiry_notice", "to", email, "subject", subject, "file_url", fileURL)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{email},
		Subject: subject,
		Text:    body,
	}

	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err == nil {
		slog.Info("email sent", "type", "expiry_notice", "to", email)
	}
	return err
}
