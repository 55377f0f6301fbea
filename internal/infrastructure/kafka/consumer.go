package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

// Publisher receives decoded events. Satisfied by events.Bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.DomainEvent)
}

// inboundTypes are the events other services may hand us. Chat events are
// produced here and are never accepted back.
var inboundTypes = map[domain.EventType]bool{
	domain.EventBookingConfirmed: true,
	domain.EventBookingReminder:  true,
	domain.EventEventUpdated:     true,
	domain.EventEventCancelled:   true,
	domain.EventAdminMessage:     true,
}

type KafkaConsumer struct {
	readers   []*kafka.Reader
	publisher Publisher
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewKafkaConsumer(brokers []string, groupID string, topics []string, publisher Publisher, logger zerolog.Logger) *KafkaConsumer {
	var readers []*kafka.Reader

	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			MaxWait:        100 * time.Millisecond,
		})
		readers = append(readers, reader)
	}

	return &KafkaConsumer{
		readers:   readers,
		publisher: publisher,
		logger:    logger.With().Str("component", "kafka_consumer").Logger(),
	}
}

// Start runs one reader goroutine per topic until ctx is cancelled.
func (k *KafkaConsumer) Start(ctx context.Context) {
	for i := range k.readers {
		k.wg.Add(1)
		go k.run(ctx, k.readers[i])
	}
}

func (k *KafkaConsumer) run(ctx context.Context, reader *kafka.Reader) {
	defer k.wg.Done()
	topic := reader.Config().Topic
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error().Interface("panic", r).Str("topic", topic).Msg("Recovered from panic in Kafka consumer")
		}
	}()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				k.logger.Info().Str("topic", topic).Msg("Kafka consumer stopping")
				return
			}
			if errors.Is(err, kafka.RebalanceInProgress) || errors.Is(err, kafka.LeaderNotAvailable) {
				k.logger.Debug().Err(err).Str("topic", topic).Msg("Kafka group is settling, retrying")
				continue
			}
			k.logger.Error().Err(err).Str("topic", topic).Msg("Error reading Kafka message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		k.handleMessage(ctx, m.Topic, m.Value)
	}
}

func (k *KafkaConsumer) handleMessage(ctx context.Context, topic string, value []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error().Interface("panic", r).Str("topic", topic).Msg("Recovered from panic in handleMessage")
		}
	}()

	var event domain.DomainEvent
	if err := json.Unmarshal(value, &event); err != nil {
		k.logger.Warn().Err(err).Str("topic", topic).Bytes("raw", value).Msg("Dropping undecodable event")
		return false
	}
	if !inboundTypes[event.Type] {
		k.logger.Warn().Str("topic", topic).Str("event_type", string(event.Type)).Msg("Dropping event of unexpected type")
		return false
	}
	if event.UserID == "" {
		k.logger.Warn().Str("topic", topic).Str("event_type", string(event.Type)).Msg("Dropping event without user")
		return false
	}

	metrics.EventsConsumed.WithLabelValues(topic).Inc()
	k.publisher.Publish(ctx, event)
	return true
}

// Close stops the readers and waits for their goroutines.
func (k *KafkaConsumer) Close() error {
	var firstErr error
	for i := range k.readers {
		if err := k.readers[i].Close(); err != nil {
			k.logger.Error().Err(err).Msg("Error closing Kafka reader")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	k.wg.Wait()
	return firstErr
}
