package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
)

var (
	passed = harness.Result{
		RunID: "run-1", Scenario: "handshake", Passed: true,
		Started: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Duration: 12 * time.Millisecond,
	}
	failed = harness.Result{
		RunID: "run-1", Scenario: "basic_ack", Kind: harness.KindFieldMismatch,
		Diagnostic: "field mismatch: ack_num: expected 1015, observed 1018",
		Mismatches: []harness.Mismatch{{Field: "ack_num", Expected: "1015", Observed: "1018"}},
		Started:    time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC), Duration: 30 * time.Millisecond,
	}
)

func TestConsoleText(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewConsole(nil, &buf)
	require.NoError(t, err)

	require.NoError(t, r.Report(context.Background(), passed))
	require.NoError(t, r.Report(context.Background(), failed))

	assert.Equal(t,
		"PASS handshake (12ms)\n"+
			"FAIL basic_ack [field_mismatch] field mismatch: ack_num: expected 1015, observed 1018 (30ms)\n"+
			"    ack_num: expected 1015, observed 1018\n",
		buf.String())
}

func TestConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewConsole(map[string]any{"format": "json"}, &buf)
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), failed))

	var got harness.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, failed.Scenario, got.Scenario)
	assert.Equal(t, failed.Kind, got.Kind)
	assert.Equal(t, failed.Mismatches, got.Mismatches)
	assert.False(t, got.Passed)
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ReporterConfig
	}{
		{"unknown type", config.ReporterConfig{Type: "carrier-pigeon"}},
		{"console format", config.ReporterConfig{Type: "console", Options: map[string]any{"format": "xml"}}},
		{"console unknown option", config.ReporterConfig{Type: "console", Options: map[string]any{"colour": true}}},
		{"kafka without brokers", config.ReporterConfig{Type: "kafka", Options: map[string]any{"topic": "t"}}},
		{"kafka without topic", config.ReporterConfig{Type: "kafka", Options: map[string]any{"brokers": []any{"localhost:9092"}}}},
		{"kafka compression", config.ReporterConfig{Type: "kafka", Options: map[string]any{
			"brokers": []any{"localhost:9092"}, "topic": "t", "compression": "brotli",
		}}},
		{"kafka batch timeout", config.ReporterConfig{Type: "kafka", Options: map[string]any{
			"brokers": []any{"localhost:9092"}, "topic": "t", "batch_timeout": "soon",
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &bytes.Buffer{})
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestNewKafkaOptions(t *testing.T) {
	r, err := NewKafka(map[string]any{
		"brokers":       []any{"broker1:9092", "broker2:9092"},
		"topic":         "cmutcp-results",
		"batch_size":    float64(10),
		"batch_timeout": "250ms",
		"compression":   "gzip",
		"max_attempts":  5,
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, r.opts.Brokers)
	assert.Equal(t, 10, r.opts.BatchSize)
	assert.Equal(t, 250*time.Millisecond, r.opts.BatchTimeout)
	assert.Equal(t, 5, r.opts.MaxAttempts)
	assert.Equal(t, "kafka", r.Name())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaReport(t *testing.T) {
	w := &fakeWriter{}
	r := &KafkaReporter{opts: kafkaOptions{Topic: "t"}, writer: w}

	require.NoError(t, r.Report(context.Background(), failed))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("run-1"), msg.Key)
	assert.Equal(t, failed.Started, msg.Time)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "scenario", Value: []byte("basic_ack")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: "outcome", Value: []byte("field_mismatch")})

	var got harness.Result
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "basic_ack", got.Scenario)

	w.err = errors.New("leader not available")
	assert.ErrorContains(t, r.Report(context.Background(), passed), "leader not available")
}

type stubReporter struct {
	name  string
	err   error
	seen  []string
	close int
}

func (s *stubReporter) Name() string { return s.name }

func (s *stubReporter) Report(ctx context.Context, res harness.Result) error {
	s.seen = append(s.seen, res.Scenario)
	return s.err
}

func (s *stubReporter) Close() error {
	s.close++
	return nil
}

func TestSetContinuesPastFailures(t *testing.T) {
	bad := &stubReporter{name: "bad", err: errors.New("down")}
	good := &stubReporter{name: "good"}
	s := &Set{reporters: []Reporter{bad, good}}

	err := s.Report(context.Background(), passed)
	assert.ErrorContains(t, err, "bad: down")

	s.Observer(context.Background())(failed)
	assert.Equal(t, []string{"handshake", "basic_ack"}, good.seen)
	assert.Equal(t, []string{"handshake", "basic_ack"}, bad.seen)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, good.close)
	assert.Equal(t, 1, bad.close)
}

func TestNewSetDefaultsToConsole(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSet(nil, &buf)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Report(context.Background(), passed))
	assert.Contains(t, buf.String(), "PASS handshake")
}
