package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"signals/internal/questionnaire/models"
	"signals/internal/questionnaire/ports"
	"signals/pkg/platform/circuit"
	"signals/pkg/platform/sentinel"
)

// LogNotifier writes notifications to the log. It is used when no broker is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

var _ ports.Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Notify(ctx context.Context, notification models.Notification) error {
	if n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		"notification_id", notification.ID.String(),
		"kind", string(notification.Kind),
		"flow", string(notification.Flow),
		"session_id", notification.Session.String(),
	)
	return nil
}

// Producer publishes one record to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaNotifier publishes notifications as JSON keyed by session id, so all
// notifications of a session land on one partition in order. A breaker stops
// calls to a failing broker; rejected calls fail with ErrUnavailable and the
// completion is retried later.
type KafkaNotifier struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type NotifierOption func(*KafkaNotifier)

func WithBreaker(b *circuit.Breaker) NotifierOption {
	return func(n *KafkaNotifier) {
		n.breaker = b
	}
}

func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *KafkaNotifier) {
		n.logger = logger
	}
}

func NewKafkaNotifier(producer Producer, topic string, opts ...NotifierOption) *KafkaNotifier {
	n := &KafkaNotifier{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("notifications"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ ports.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) Notify(ctx context.Context, notification models.Notification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if !n.breaker.Allow() {
		return fmt.Errorf("notification broker circuit open: %w", sentinel.ErrUnavailable)
	}

	if err := n.producer.Publish(ctx, n.topic, []byte(notification.Session.String()), value); err != nil {
		if _, change := n.breaker.RecordFailure(); change.Opened && n.logger != nil {
			n.logger.WarnContext(ctx, "notification circuit opened",
				"breaker", n.breaker.Name(),
				"error", err,
			)
		}
		return fmt.Errorf("publish notification: %w", err)
	}
	if _, change := n.breaker.RecordSuccess(); change.Closed && n.logger != nil {
		n.logger.InfoContext(ctx, "notification circuit closed", "breaker", n.breaker.Name())
	}
	return nil
}
