package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
)

// TopicConfig параметры создаваемого топика.
type TopicConfig = kafkaGo.TopicConfig

// EnsureTopics создает недостающие топики через контроллер кластера.
func EnsureTopics(ctx context.Context, brokers []string, topics []kafkaGo.TopicConfig, log *logger.Logger) error {
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		return errors.New("kafka broker address is empty")
	}
	if err := validateBrokerAddr(brokers[0]); err != nil {
		log.Errorw("Invalid Kafka broker address", "broker", brokers[0], "error", err)
		return err
	}

	conn, err := kafkaGo.DialContext(ctx, "tcp", strings.TrimSpace(brokers[0]))
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker", "broker", brokers[0], "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))

	ctrlConn, err := kafkaGo.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		log.Errorw("Failed to connect to Kafka controller", "address", controllerAddr, "error", err)
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer ctrlConn.Close()

	partitions, err := ctrlConn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}
	existing := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	missing := missingTopics(topics, existing)
	if len(missing) == 0 {
		log.Infow("All required Kafka topics already exist", "topics", topicNames(topics))
		return nil
	}

	if err := ctrlConn.CreateTopics(missing...); err != nil && !errors.Is(err, kafkaGo.TopicAlreadyExists) {
		log.Errorw("Failed to create topics", "error", err, "topics", topicNames(missing))
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Kafka topics created", "topics", topicNames(missing))
	return nil
}

// SubscriptionTopic конфигурация топика событий подписок.
func SubscriptionTopic(name string, partitions, replication int) kafkaGo.TopicConfig {
	if name == "" {
		name = TopicSubscriptionChanged
	}
	return kafkaGo.TopicConfig{
		Topic:             name,
		NumPartitions:     max(partitions, 1),
		ReplicationFactor: max(replication, 1),
	}
}

func validateBrokerAddr(addr string) error {
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("invalid broker address %s: %w", addr, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", addr, err)
	}
	return nil
}

func missingTopics(required []kafkaGo.TopicConfig, existing map[string]bool) []kafkaGo.TopicConfig {
	var out []kafkaGo.TopicConfig
	for _, tc := range required {
		if !existing[tc.Topic] {
			out = append(out, tc)
		}
	}
	return out
}

func topicNames(topicConfigs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicConfigs))
	for _, tc := range topicConfigs {
		names = append(names, tc.Topic)
	}
	return names
}
