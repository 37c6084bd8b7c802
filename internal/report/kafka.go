package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
	"firestige.xyz/cmutcp/internal/log"
)

const (
	defaultBatchSize    = 1
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter publishes each result as a JSON message keyed by run ID.
type KafkaReporter struct {
	opts   kafkaOptions
	writer messageWriter
}

type kafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

func NewKafka(opts map[string]any) (*KafkaReporter, error) {
	o := kafkaOptions{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  "none",
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if len(o.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka reporter needs brokers", core.ErrConfigInvalid)
	}
	if o.Topic == "" {
		return nil, fmt.Errorf("%w: kafka reporter needs a topic", core.ErrConfigInvalid)
	}

	wc := kafka.WriterConfig{
		Brokers:      o.Brokers,
		Topic:        o.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    o.BatchSize,
		BatchTimeout: o.BatchTimeout,
		MaxAttempts:  o.MaxAttempts,
	}
	switch o.Compression {
	case "none", "":
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: kafka compression %q", core.ErrConfigInvalid, o.Compression)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"brokers": o.Brokers,
		"topic":   o.Topic,
	}).Info("kafka reporter configured")

	return &KafkaReporter{opts: o, writer: kafka.NewWriter(wc)}, nil
}

func (r *KafkaReporter) Name() string { return "kafka" }

func (r *KafkaReporter) Report(ctx context.Context, res harness.Result) error {
	msg, err := resultMessage(res)
	if err != nil {
		return err
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", r.opts.Topic, err)
	}
	return nil
}

func (r *KafkaReporter) Close() error {
	return r.writer.Close()
}

func resultMessage(res harness.Result) (kafka.Message, error) {
	value, err := json.Marshal(res)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode result: %w", err)
	}
	return kafka.Message{
		Key:   []byte(res.RunID),
		Value: value,
		Time:  res.Started,
		Headers: []kafka.Header{
			{Key: "scenario", Value: []byte(res.Scenario)},
			{Key: "outcome", Value: []byte(res.Outcome())},
		},
	}, nil
}
