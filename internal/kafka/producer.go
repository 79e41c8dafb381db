package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// TopicSubscriptionChanged топик событий изменения подписки по умолчанию
const TopicSubscriptionChanged = "subscription_changed"

// Producer определяет интерфейс для публикации событий в Kafka.
type Producer interface {
	// PublishSubscriptionEvent отправляет событие об изменении подписки.
	// Ключ сообщения user_id: события одного пользователя попадают в одну партицию.
	PublishSubscriptionEvent(ctx context.Context, event *models.SubscriptionChangedEvent) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// messageWriter часть kafka.Writer, которую использует продюсер.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	log          *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = TopicSubscriptionChanged
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)
	return newProducer(writer, topic, log), nil
}

func newProducer(w messageWriter, topic string, log *logger.Logger) *kafkaProducer {
	return &kafkaProducer{
		writer:       w,
		topic:        topic,
		writeTimeout: 15 * time.Second,
		log:          log,
	}
}

func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, event *models.SubscriptionChangedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription event for Kafka", "error", err, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: k.topic,
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.StripeEventType)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, k.writeTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", k.topic, "userID", event.UserID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", k.topic, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Infow("Published subscription event", "topic", k.topic, "userID", event.UserID, "eventType", event.StripeEventType)
	return nil
}

// Close закрывает Kafka Writer. Вызывается при graceful shutdown.
func (k *kafkaProducer) Close() error {
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}
