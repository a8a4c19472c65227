package sink

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
	"github.com/LdDl/mot-presence/presence"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event types published by KafkaReporter
const (
	EventNew        = "new"
	EventMissing    = "missing"
	EventReappeared = "reappeared"
	EventEvicted    = "evicted"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	BootstrapServers string `yaml:"bootstrap_servers"`
	SecurityProtocol string `yaml:"security_protocol"`
	SASLMechanism    string `yaml:"sasl_mechanism"`
	SASLUsername     string `yaml:"sasl_username"`
	SASLPassword     string `yaml:"sasl_password"`
	Topic            string `yaml:"topic"`
	CompressionType  string `yaml:"compression_type"`
	Acks             string `yaml:"acks"`
	LingerMS         int    `yaml:"linger_ms"`
	BatchSize        int    `yaml:"batch_size"`
	MaxRetries       int    `yaml:"max_retries"`
	// Name of the video source, sent with every event
	SourceName string `yaml:"source_name"`
	// Identifier of the run. Random UUID is generated when empty
	SessionID string `yaml:"-"`
}

// Enabled returns true when brokers are configured
func (cfg KafkaConfig) Enabled() bool {
	return cfg.BootstrapServers != ""
}

// ConfigMap builds librdkafka producer configuration
func (cfg KafkaConfig) ConfigMap() *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"compression.type":   cfg.CompressionType,
		"acks":               cfg.Acks,
		"linger.ms":          cfg.LingerMS,
		"batch.size":         cfg.BatchSize,
		"enable.idempotence": true,
		"request.timeout.ms": 30000,
	}
	if cfg.SecurityProtocol != "" {
		_ = configMap.SetKey("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		_ = configMap.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = configMap.SetKey("sasl.username", cfg.SASLUsername)
		_ = configMap.SetKey("sasl.password", cfg.SASLPassword)
	}
	return configMap
}

// EventMessage is JSON payload of single lifecycle event
type EventMessage struct {
	EventID     string     `json:"event_id"`
	SessionID   string     `json:"session_id"`
	Source      string     `json:"source,omitempty"`
	Type        string     `json:"type"`
	FrameNumber int64      `json:"frame_number"`
	Timestamp   time.Time  `json:"timestamp"`
	TrackID     int64      `json:"track_id"`
	ClassName   string     `json:"class_name"`
	FirstSeen   *time.Time `json:"first_seen,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	DurationSec *float64   `json:"duration_sec,omitempty"`
	TotalFrames *int       `json:"total_frames,omitempty"`
	// Frames of absence for reappeared objects
	Gap *int64 `json:"gap,omitempty"`
}

// producer is the part of *kafka.Producer used by reporter
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaReporter publishes lifecycle events to Kafka topic.
// Missing identity is published once when it departs, not on every frame of absence.
type KafkaReporter struct {
	producer     producer
	topic        string
	source       string
	sessionID    string
	deliveryChan chan kafka.Event

	messagesSent   atomic.Int64
	messagesAcked  atomic.Int64
	messagesFailed atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	maxRetries  int
	baseBackoff time.Duration
}

// NewKafkaReporter connects to brokers and starts delivery report handler
func NewKafkaReporter(cfg KafkaConfig) (*KafkaReporter, error) {
	p, err := kafka.NewProducer(cfg.ConfigMap())
	if err != nil {
		return nil, errors.Wrap(err, "can't create kafka producer")
	}
	kr := newKafkaReporter(p, cfg)
	monitoring.Logf("sink: kafka producer initialized topic=%s servers=%s session=%s", cfg.Topic, cfg.BootstrapServers, kr.sessionID)
	return kr, nil
}

func newKafkaReporter(p producer, cfg KafkaConfig) *KafkaReporter {
	ctx, cancel := context.WithCancel(context.Background())
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	kr := &KafkaReporter{
		producer:     p,
		topic:        cfg.Topic,
		source:       cfg.SourceName,
		sessionID:    sessionID,
		deliveryChan: make(chan kafka.Event, 10000),
		ctx:          ctx,
		cancel:       cancel,
		maxRetries:   maxRetries,
		baseBackoff:  100 * time.Millisecond,
	}
	kr.wg.Add(1)
	go kr.handleDeliveryReports()
	return kr
}

// SessionID returns identifier of this run, sent with every event
func (kr *KafkaReporter) SessionID() string {
	return kr.sessionID
}

func (kr *KafkaReporter) handleDeliveryReports() {
	defer kr.wg.Done()
	for {
		select {
		case <-kr.ctx.Done():
			return
		case e := <-kr.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				kr.messagesFailed.Add(1)
				monitoring.Logf("sink: kafka delivery failed: %v", m.TopicPartition.Error)
				continue
			}
			kr.messagesAcked.Add(1)
		}
	}
}

// Report implements Reporter
func (kr *KafkaReporter) Report(ctx context.Context, result *presence.FrameResult) error {
	for _, msg := range kr.messages(result) {
		if err := kr.Send(ctx, msg); err != nil {
			return errors.Wrapf(err, "frame %d", result.FrameNumber)
		}
	}
	return nil
}

// messages converts frame result into event messages
func (kr *KafkaReporter) messages(result *presence.FrameResult) []EventMessage {
	msgs := make([]EventMessage, 0, len(result.New)+len(result.Missing)+len(result.Reappeared)+len(result.Evicted))
	base := func(eventType string, id int64, className string) EventMessage {
		return EventMessage{
			EventID:     uuid.New().String(),
			SessionID:   kr.sessionID,
			Source:      kr.source,
			Type:        eventType,
			FrameNumber: result.FrameNumber,
			Timestamp:   result.Timestamp,
			TrackID:     id,
			ClassName:   className,
		}
	}
	for _, e := range result.New {
		msg := base(EventNew, e.ID, e.ClassName)
		firstSeen := e.FirstSeen
		msg.FirstSeen = &firstSeen
		msgs = append(msgs, msg)
	}
	for _, e := range result.Reappeared {
		msg := base(EventReappeared, e.ID, e.ClassName)
		gap := e.Gap
		msg.Gap = &gap
		msgs = append(msgs, msg)
	}
	for _, e := range result.Missing {
		if !e.Departed {
			continue
		}
		msg := base(EventMissing, e.ID, e.ClassName)
		duration := e.Duration.Seconds()
		totalFrames := e.TotalFrames
		msg.DurationSec = &duration
		msg.TotalFrames = &totalFrames
		msgs = append(msgs, msg)
	}
	for _, s := range result.Evicted {
		msgs = append(msgs, evictedMessage(base(EventEvicted, s.ID, s.ClassName), s))
	}
	return msgs
}

// Archive implements Archiver: evicted records are published as events
func (kr *KafkaReporter) Archive(ctx context.Context, summaries []presence.Summary, now time.Time) error {
	for _, s := range summaries {
		msg := evictedMessage(EventMessage{
			EventID:   uuid.New().String(),
			SessionID: kr.sessionID,
			Source:    kr.source,
			Type:      EventEvicted,
			Timestamp: now,
			TrackID:   s.ID,
			ClassName: s.ClassName,
		}, s)
		if err := kr.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func evictedMessage(msg EventMessage, s presence.Summary) EventMessage {
	firstSeen, lastSeen := s.FirstSeen, s.LastSeen
	duration := s.Duration().Seconds()
	totalFrames := s.TotalFrames
	msg.FirstSeen = &firstSeen
	msg.LastSeen = &lastSeen
	msg.DurationSec = &duration
	msg.TotalFrames = &totalFrames
	return msg
}

// Send publishes single event with exponential backoff retry
func (kr *KafkaReporter) Send(ctx context.Context, event EventMessage) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "can't serialize event")
	}
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kr.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.EventID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "session_id", Value: []byte(event.SessionID)},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "class_name", Value: []byte(event.ClassName)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= kr.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := kr.baseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry cancelled")
			case <-time.After(backoff):
			}
		}
		err := kr.producer.Produce(message, kr.deliveryChan)
		if err == nil {
			kr.messagesSent.Add(1)
			return nil
		}
		lastErr = err
		if kafkaErr, ok := err.(kafka.Error); ok && !kafkaErr.IsRetriable() && kafkaErr.Code() != kafka.ErrQueueFull {
			kr.messagesFailed.Add(1)
			return errors.Wrap(err, "non-retriable error")
		}
	}
	kr.messagesFailed.Add(1)
	return errors.Wrapf(lastErr, "failed after %d retries", kr.maxRetries)
}

// Metrics returns producer counters
func (kr *KafkaReporter) Metrics() map[string]int64 {
	return map[string]int64{
		"messages_sent":   kr.messagesSent.Load(),
		"messages_acked":  kr.messagesAcked.Load(),
		"messages_failed": kr.messagesFailed.Load(),
	}
}

// Close flushes pending messages and shuts producer down
func (kr *KafkaReporter) Close(timeout time.Duration) {
	if remaining := kr.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		monitoring.Logf("sink: kafka %d messages still in queue after flush timeout", remaining)
	}
	kr.cancel()
	kr.wg.Wait()
	kr.producer.Close()
	metrics := kr.Metrics()
	monitoring.Logf("sink: kafka producer closed sent=%d acked=%d failed=%d", metrics["messages_sent"], metrics["messages_acked"], metrics["messages_failed"])
}
