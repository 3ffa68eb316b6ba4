// Package notify holds the Notifier implementations: email, RabbitMQ and noop.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"eventregistration/internal/adapters/email"
	"eventregistration/internal/domain"
)

// Config selects and configures the notifier.
type Config struct {
	Provider         string // email, rabbitmq, noop
	RabbitMQURL      string
	RabbitMQExchange string
	Mailer           email.MailerConfig
}

// New builds the configured Notifier. The returned close func releases its
// connections and is never nil.
func New(cfg Config, logger *slog.Logger) (domain.Notifier, func() error, error) {
	noClose := func() error { return nil }
	switch cfg.Provider {
	case "email":
		mailer, err := email.NewMailer(cfg.Mailer, logger)
		if err != nil {
			return nil, noClose, err
		}
		renderer, err := email.NewTemplateRenderer()
		if err != nil {
			return nil, noClose, err
		}
		return NewEmailNotifier(mailer, renderer, logger), noClose, nil
	case "rabbitmq":
		if cfg.RabbitMQURL == "" {
			return nil, noClose, fmt.Errorf("rabbitmq notifier: RABBITMQ_URL is required")
		}
		n, err := NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return nil, noClose, err
		}
		return n, n.Close, nil
	case "noop", "":
		return NewNoopNotifier(logger), noClose, nil
	default:
		return nil, noClose, fmt.Errorf("unknown notifier provider %q", cfg.Provider)
	}
}

type noopNotifier struct {
	logger *slog.Logger
}

// NewNoopNotifier returns a Notifier that only logs.
func NewNoopNotifier(logger *slog.Logger) domain.Notifier {
	return &noopNotifier{logger: logger}
}

func (n *noopNotifier) SendVerificationCode(_ context.Context, msg *domain.VerificationCodeMessage) error {
	n.logger.Info("verification code would be sent (noop)", "to", msg.To, "event", msg.EventTitle)
	return nil
}

func (n *noopNotifier) SendRegistrationConfirmation(_ context.Context, msg *domain.RegistrationConfirmationMessage) error {
	n.logger.Info("registration confirmation would be sent (noop)", "to", msg.To, "event", msg.EventTitle)
	return nil
}

func (n *noopNotifier) SendCancellationConfirmation(_ context.Context, msg *domain.CancellationConfirmationMessage) error {
	n.logger.Info("cancellation confirmation would be sent (noop)", "to", msg.To, "event", msg.EventTitle)
	return nil
}
