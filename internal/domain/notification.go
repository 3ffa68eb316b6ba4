package domain

import (
	"context"
	"time"
)

// Mailer defines the contract for sending emails (infrastructure port).
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// EmailTemplateRenderer renders email content from a named template with the given data.
type EmailTemplateRenderer interface {
	Render(templateName string, data any) (subject, htmlBody, textBody string, err error)
}

// VerificationCodeMessage asks the participant to confirm a pending registration.
type VerificationCodeMessage struct {
	To               string // phone
	Email            string
	Name             string
	EventTitle       string
	Code             string
	ExpiresInMinutes int
}

// RegistrationConfirmationMessage tells the participant their slot is confirmed.
type RegistrationConfirmationMessage struct {
	To            string
	Email         string
	Name          string
	EventTitle    string
	EventDate     *time.Time
	EventLocation string
}

// CancellationConfirmationMessage tells the participant their registration was cancelled.
type CancellationConfirmationMessage struct {
	To         string
	Email      string
	Name       string
	EventTitle string
}

// Notifier delivers participant-facing messages. Failures are reported to the
// caller, who decides whether they matter; the registration workflow only logs them.
type Notifier interface {
	SendVerificationCode(ctx context.Context, msg *VerificationCodeMessage) error
	SendRegistrationConfirmation(ctx context.Context, msg *RegistrationConfirmationMessage) error
	SendCancellationConfirmation(ctx context.Context, msg *CancellationConfirmationMessage) error
}
