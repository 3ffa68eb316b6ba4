package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"eventregistration/internal/domain"
	"eventregistration/internal/requestid"
)

const (
	DefaultExchange = "registration.notifications"

	RoutingKeyVerificationCode         = "notification.verification_code"
	RoutingKeyRegistrationConfirmation = "notification.registration_confirmation"
	RoutingKeyCancellationConfirmation = "notification.cancellation_confirmation"
)

// Message is the JSON body published for the messaging worker that delivers
// WhatsApp/SMS messages.
type Message struct {
	Type       string    `json:"type"`
	To         string    `json:"to"`
	Email      string    `json:"email,omitempty"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// amqpChannel is the subset of *amqp.Channel the notifier publishes through.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the exchange declared. closes receives the
// channel's close notification.
type dialFunc func() (ch amqpChannel, conn io.Closer, closes <-chan *amqp.Error, err error)

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

var errNotifierClosed = errors.New("rabbitmq notifier closed")

// RabbitMQNotifier publishes notification requests to a topic exchange. A
// channel lost to a broker restart is dropped and redialed on the next publish,
// with exponential backoff between failed dials.
type RabbitMQNotifier struct {
	exchange string
	dial     dialFunc
	logger   *slog.Logger

	mu      sync.Mutex
	conn    io.Closer
	ch      amqpChannel
	closed  bool
	backoff time.Duration
	retryAt time.Time
	now     func() time.Time
}

// NewRabbitMQNotifier dials url and declares the durable topic exchange.
func NewRabbitMQNotifier(url, exchange string, logger *slog.Logger) (*RabbitMQNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	n := newRabbitMQNotifier(nil, exchange, logger)
	n.dial = dialer(url, exchange)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.connectLocked(); err != nil {
		return nil, err
	}
	return n, nil
}

func dialer(url, exchange string) dialFunc {
	return func() (amqpChannel, io.Closer, <-chan *amqp.Error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		if err := ch.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-delete
			false,
			false,
			nil,
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("exchange declare: %w", err)
		}
		return ch, conn, ch.NotifyClose(make(chan *amqp.Error, 1)), nil
	}
}

func newRabbitMQNotifier(ch amqpChannel, exchange string, logger *slog.Logger) *RabbitMQNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQNotifier{exchange: exchange, ch: ch, logger: logger, now: time.Now}
}

// connectLocked makes sure a channel is open. n.mu must be held.
func (n *RabbitMQNotifier) connectLocked() error {
	if n.closed {
		return errNotifierClosed
	}
	if n.ch != nil {
		return nil
	}
	if n.dial == nil {
		return errors.New("rabbitmq channel closed")
	}
	now := n.now()
	if now.Before(n.retryAt) {
		return fmt.Errorf("rabbitmq unavailable, next reconnect in %s", n.retryAt.Sub(now).Round(time.Millisecond))
	}

	ch, conn, closes, err := n.dial()
	if err != nil {
		n.backoff = min(max(2*n.backoff, minReconnectBackoff), maxReconnectBackoff)
		n.retryAt = now.Add(n.backoff)
		return err
	}
	n.backoff = 0
	n.retryAt = time.Time{}
	n.ch, n.conn = ch, conn
	go n.watch(ch, closes)
	return nil
}

// watch drops ch once the broker or the client closes it.
func (n *RabbitMQNotifier) watch(ch amqpChannel, closes <-chan *amqp.Error) {
	amqpErr, ok := <-closes

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != ch {
		return
	}
	if ok && amqpErr != nil {
		n.logger.Warn("rabbitmq channel closed, reconnecting on next publish",
			"exchange", n.exchange, "code", amqpErr.Code, "reason", amqpErr.Reason)
	}
	n.dropLocked()
}

func (n *RabbitMQNotifier) dropLocked() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

func (n *RabbitMQNotifier) SendVerificationCode(ctx context.Context, msg *domain.VerificationCodeMessage) error {
	return n.publish(ctx, RoutingKeyVerificationCode, Message{
		Type:  "verification_code",
		To:    msg.To,
		Email: msg.Email,
		Payload: map[string]any{
			"name":               msg.Name,
			"event_title":        msg.EventTitle,
			"code":               msg.Code,
			"expires_in_minutes": msg.ExpiresInMinutes,
		},
	})
}

func (n *RabbitMQNotifier) SendRegistrationConfirmation(ctx context.Context, msg *domain.RegistrationConfirmationMessage) error {
	return n.publish(ctx, RoutingKeyRegistrationConfirmation, Message{
		Type:  "registration_confirmation",
		To:    msg.To,
		Email: msg.Email,
		Payload: map[string]any{
			"name":           msg.Name,
			"event_title":    msg.EventTitle,
			"event_date":     msg.EventDate,
			"event_location": msg.EventLocation,
		},
	})
}

func (n *RabbitMQNotifier) SendCancellationConfirmation(ctx context.Context, msg *domain.CancellationConfirmationMessage) error {
	return n.publish(ctx, RoutingKeyCancellationConfirmation, Message{
		Type:  "cancellation_confirmation",
		To:    msg.To,
		Email: msg.Email,
		Payload: map[string]any{
			"name":        msg.Name,
			"event_title": msg.EventTitle,
		},
	})
}

func (n *RabbitMQNotifier) publish(ctx context.Context, routingKey string, m Message) error {
	m.OccurredAt = n.now().UTC()
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	headers := amqp.Table{}
	if id := requestid.FromContext(ctx); id != "" {
		headers[requestid.Header] = id
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.OccurredAt,
		Headers:      headers,
		Body:         body,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.connectLocked(); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	err = n.ch.PublishWithContext(ctx, n.exchange, routingKey, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) {
		// The close notification may not have arrived yet. Redial once.
		n.dropLocked()
		if cerr := n.connectLocked(); cerr != nil {
			return fmt.Errorf("publish %s: %w", routingKey, cerr)
		}
		err = n.ch.PublishWithContext(ctx, n.exchange, routingKey, false, false, pub)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the channel and connection. Later publishes fail.
func (n *RabbitMQNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.dropLocked()
	return nil
}
