package notify

import (
	"context"
	"fmt"
	"log/slog"

	"eventregistration/internal/adapters/email"
	"eventregistration/internal/domain"
)

type emailNotifier struct {
	mailer   domain.Mailer
	renderer domain.EmailTemplateRenderer
	logger   *slog.Logger
}

// NewEmailNotifier returns a Notifier that renders the embedded templates and
// sends them to the participant's email address.
func NewEmailNotifier(mailer domain.Mailer, renderer domain.EmailTemplateRenderer, logger *slog.Logger) domain.Notifier {
	return &emailNotifier{mailer: mailer, renderer: renderer, logger: logger}
}

func (n *emailNotifier) SendVerificationCode(ctx context.Context, msg *domain.VerificationCodeMessage) error {
	if msg == nil {
		return fmt.Errorf("verification code message is nil")
	}
	return n.send(ctx, email.TemplateVerificationCode, msg.Email, msg)
}

func (n *emailNotifier) SendRegistrationConfirmation(ctx context.Context, msg *domain.RegistrationConfirmationMessage) error {
	if msg == nil {
		return fmt.Errorf("registration confirmation message is nil")
	}
	return n.send(ctx, email.TemplateRegistrationConfirmation, msg.Email, msg)
}

func (n *emailNotifier) SendCancellationConfirmation(ctx context.Context, msg *domain.CancellationConfirmationMessage) error {
	if msg == nil {
		return fmt.Errorf("cancellation confirmation message is nil")
	}
	return n.send(ctx, email.TemplateCancellationConfirmation, msg.Email, msg)
}

func (n *emailNotifier) send(ctx context.Context, templateName, to string, data any) error {
	if to == "" {
		return fmt.Errorf("%s: recipient has no email address", templateName)
	}
	subject, htmlBody, textBody, err := n.renderer.Render(templateName, data)
	if err != nil {
		return fmt.Errorf("failed to render %s template: %w", templateName, err)
	}
	if err := n.mailer.Send(ctx, to, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send %s email: %w", templateName, err)
	}
	n.logger.Info("notification email sent", "template", templateName, "to", to)
	return nil
}
