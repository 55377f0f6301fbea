package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

const (
	forwardQueueSize    = 1024
	forwardWriteTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer forwards chat events to the outbound topic for other
// services (analytics, email digests). Forward only enqueues; a single
// goroutine owns the writer.
type KafkaProducer struct {
	writer messageWriter
	topic  string
	queue  chan kafka.Message
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func NewKafkaProducer(brokers []string, topic string, logger zerolog.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: 1,
	}
	return newProducer(writer, topic, forwardQueueSize, logger)
}

func newProducer(writer messageWriter, topic string, queueSize int, logger zerolog.Logger) *KafkaProducer {
	k := &KafkaProducer{
		writer: writer,
		topic:  topic,
		queue:  make(chan kafka.Message, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "kafka_producer").Str("topic", topic).Logger(),
	}
	go k.run()
	return k
}

// Forward is subscribed to the event bus for every event; only chat events
// produced by this service leave the process. It never waits on the broker:
// when the queue is full the event is dropped and counted.
func (k *KafkaProducer) Forward(ctx context.Context, event domain.DomainEvent) error {
	if event.Type != domain.EventMessageSent && event.Type != domain.EventSupportRequested {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Keyed by conversation so one thread stays on one partition.
	key := event.ConversationID
	if key == "" {
		key = event.UserID
	}
	msg := kafka.Message{Key: []byte(key), Value: data}

	select {
	case <-k.stop:
		return nil
	default:
	}

	select {
	case k.queue <- msg:
	default:
		metrics.EventsForwarded.WithLabelValues("dropped").Inc()
		k.logger.Warn().Str("event_type", string(event.Type)).Str("key", key).Msg("Kafka queue full, event dropped")
	}
	return nil
}

func (k *KafkaProducer) run() {
	defer close(k.done)
	for {
		select {
		case msg := <-k.queue:
			k.write(msg)
		case <-k.stop:
			// Flush what was accepted before Close.
			for {
				select {
				case msg := <-k.queue:
					k.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (k *KafkaProducer) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardWriteTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsForwarded.WithLabelValues("failed").Inc()
		k.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Failed to write event to Kafka")
		return
	}
	metrics.EventsForwarded.WithLabelValues("written").Inc()
	k.logger.Debug().Str("key", string(msg.Key)).Msg("Event forwarded to Kafka")
}

// Close flushes queued events and closes the writer. Safe to call twice.
func (k *KafkaProducer) Close() error {
	var err error
	k.once.Do(func() {
		close(k.stop)
		<-k.done
		err = k.writer.Close()
	})
	return err
}
