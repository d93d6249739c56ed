package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSinkConfig configures the Kafka-backed sink.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives the event stream.
	Topic string

	// BufferSize bounds the in-process queue; events beyond it are dropped
	// rather than blocking the caller. Defaults to 256.
	BufferSize int

	// WriteTimeout is the per-message timeout. Defaults to 10s.
	WriteTimeout time.Duration
}

// KafkaSink publishes events to a Kafka topic from a single background
// goroutine. Emit enqueues and returns immediately; a full queue drops the
// event, keeping the critical path free of broker latency.
type KafkaSink struct {
	writer  *kafka.Writer
	queue   chan Event
	done    chan struct{}
	timeout time.Duration
}

// NewKafkaSink constructs and starts a KafkaSink.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	s := &KafkaSink{
		writer:  w,
		queue:   make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		timeout: cfg.WriteTimeout,
	}
	go s.run()
	return s, nil
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[observe.kafka] marshal event: %v", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.Event),
			Value: b,
			Time:  ev.Timestamp,
		})
		cancel()
		if err != nil {
			// Best-effort delivery: log and move on.
			log.Printf("[observe.kafka] produce %s: %v", ev.Event, err)
		}
	}
}

// Emit enqueues the event, dropping it when the queue is full.
func (s *KafkaSink) Emit(ev Event) {
	select {
	case s.queue <- ev:
	default:
		log.Printf("[observe.kafka] queue full, dropping %s", ev.Event)
	}
}

// Close drains the queue and shuts down the writer.
func (s *KafkaSink) Close() error {
	close(s.queue)
	<-s.done
	return s.writer.Close()
}
