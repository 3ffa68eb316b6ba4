package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventregistration/internal/domain"
	"eventregistration/internal/metrics"
)

const defaultNotificationTimeout = 30 * time.Second

// NotificationDispatcher sends notifications in the background. A send never
// blocks the caller and its failure is only logged.
type NotificationDispatcher struct {
	notifier domain.Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewNotificationDispatcher wraps notifier. A nil notifier disables delivery.
func NewNotificationDispatcher(notifier domain.Notifier, logger *slog.Logger, timeout time.Duration) *NotificationDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	return &NotificationDispatcher{notifier: notifier, logger: logger, timeout: timeout}
}

func (d *NotificationDispatcher) VerificationCode(ctx context.Context, msg *domain.VerificationCodeMessage) {
	d.dispatch(ctx, "verification_code", msg.To, func(ctx context.Context) error {
		return d.notifier.SendVerificationCode(ctx, msg)
	})
}

func (d *NotificationDispatcher) RegistrationConfirmation(ctx context.Context, msg *domain.RegistrationConfirmationMessage) {
	d.dispatch(ctx, "registration_confirmation", msg.To, func(ctx context.Context) error {
		return d.notifier.SendRegistrationConfirmation(ctx, msg)
	})
}

func (d *NotificationDispatcher) CancellationConfirmation(ctx context.Context, msg *domain.CancellationConfirmationMessage) {
	d.dispatch(ctx, "cancellation_confirmation", msg.To, func(ctx context.Context) error {
		return d.notifier.SendCancellationConfirmation(ctx, msg)
	})
}

// Wait blocks until every dispatched notification has finished.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, kind, to string, send func(context.Context) error) {
	if d == nil || d.notifier == nil {
		return
	}
	// Request values (request id) are kept; the request's cancellation is not.
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordNotification(kind, "panic")
				d.logger.Error("notification panicked", "type", kind, "to", to, "panic", fmt.Sprint(r))
			}
		}()
		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := send(sendCtx); err != nil {
			metrics.RecordNotification(kind, "failed")
			d.logger.Error("notification failed", "type", kind, "to", to, "error", err)
			return
		}
		metrics.RecordNotification(kind, "sent")
	}()
}
