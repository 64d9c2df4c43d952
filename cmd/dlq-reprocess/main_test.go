package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
)

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
	if got := parseBrokers("  "); len(got) != 0 {
		t.Fatalf("expected no brokers, got %+v", got)
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	env := map[string]string{"OMS_KAFKA_BROKERS": "kafka:9092"}
	cfg, err := readConfig(newFlagSet(), nil, func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	if cfg.sourceTopic != kafka.TopicDeadLetter || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected topics %q -> %q", cfg.sourceTopic, cfg.targetTopic)
	}
	if cfg.limit != defaultReplayLimit || cfg.idleTimeout != defaultIdleTimeout || cfg.execute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.brokers) != 1 || cfg.brokers[0] != "kafka:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.brokers)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	args := []string{
		"-brokers", "b1:9092,b2:9092",
		"-source", "custom.dlq",
		"-target", "custom.events",
		"-event-type", "order.placed",
		"-limit", "5",
		"-execute",
		"-idle-timeout", "150ms",
	}
	cfg, err := readConfig(newFlagSet(), args, func(string) string { return "" })
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	if len(cfg.brokers) != 2 || cfg.sourceTopic != "custom.dlq" || cfg.targetTopic != "custom.events" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.eventType != "order.placed" || cfg.limit != 5 || !cfg.execute || cfg.idleTimeout != 150*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestReadConfig_EnvTopics(t *testing.T) {
	env := map[string]string{
		"OMS_KAFKA_BROKERS":     "kafka:9092",
		"OMS_KAFKA_DLQ_TOPIC":   "env.dlq",
		"OMS_KAFKA_ORDER_TOPIC": "env.events",
	}
	cfg, err := readConfig(newFlagSet(), nil, func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if cfg.sourceTopic != "env.dlq" || cfg.targetTopic != "env.events" {
		t.Fatalf("unexpected topics %q -> %q", cfg.sourceTopic, cfg.targetTopic)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	cases := map[string][]string{
		"no brokers":     {},
		"same topics":    {"-brokers", "b:9092", "-source", "t", "-target", "t"},
		"empty source":   {"-brokers", "b:9092", "-source", " "},
		"zero limit":     {"-brokers", "b:9092", "-limit", "0"},
		"negative idle":  {"-brokers", "b:9092", "-idle-timeout", "-1s"},
		"unknown flag":   {"-brokers", "b:9092", "-nope"},
		"malformed int":  {"-brokers", "b:9092", "-limit", "many"},
		"malformed time": {"-brokers", "b:9092", "-idle-timeout", "soon"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := readConfig(newFlagSet(), args, func(string) string { return "" }); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDecodeDeadLetter(t *testing.T) {
	letter, err := decodeDeadLetter(deadLetterValue(t, "outbox-1", "order.placed", `{"order_id":"o-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if letter.OutboxID != "outbox-1" || letter.EventType != "order.placed" || letter.AggregateID != "order-outbox-1" {
		t.Fatalf("unexpected letter: %+v", letter)
	}
	if letter.Error != "broker unavailable" || letter.FailedAt.IsZero() {
		t.Fatalf("failure details lost: %+v", letter)
	}
	if string(letter.Payload) != `{"order_id":"o-1"}` {
		t.Fatalf("unexpected payload %s", letter.Payload)
	}
}

func TestDecodeDeadLetter_FallsBackToEnvelope(t *testing.T) {
	raw := []byte(`{"id":"outbox-9","aggregate_type":"order","aggregate_id":"order-9","event_type":"order.status_changed","payload":{"error":"timeout"}}`)

	letter, err := decodeDeadLetter(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if letter.OutboxID != "outbox-9" || letter.EventType != "order.status_changed" || letter.AggregateID != "order-9" {
		t.Fatalf("envelope fields not applied: %+v", letter)
	}
}

func TestDecodeDeadLetter_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `nope`,
		"no payload":     `{"id":"x","event_type":"order.placed"}`,
		"null payload":   `{"id":"x","event_type":"order.placed","payload":null}`,
		"payload string": `{"id":"x","event_type":"order.placed","payload":"text"}`,
		"no identity":    `{"payload":{"error":"boom"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeDeadLetter([]byte(raw)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestReplayer_DryRun(t *testing.T) {
	consumer := newStubConsumer(map[int32][][]byte{
		0: {deadLetterValue(t, "outbox-1", "order.placed", `{}`), []byte("garbage")},
		1: {deadLetterValue(t, "outbox-2", "order.status_changed", `{}`)},
	})

	r := &replayer{cfg: testConfig(), consumer: consumer, logger: quietLogger()}
	stats, err := r.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.scanned != 3 || stats.matched != 2 || stats.invalid != 1 || stats.replayed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !consumer.partitions[0].closed || !consumer.partitions[1].closed {
		t.Fatal("partition consumers must be closed")
	}
}

func TestReplayer_ExecuteRepublishesThroughOutboxPublisher(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "replay.events" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-outbox-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if len(msg.Headers) != 3 || string(msg.Headers[0].Value) != "order.placed" {
			return fmt.Errorf("unexpected headers %+v", msg.Headers)
		}

		value, _ := msg.Value.Encode()
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.ID != "outbox-1" || env.EventType != "order.placed" || string(env.Payload) != `{"order_id":"o-1"}` {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		return nil
	})

	cfg := testConfig()
	cfg.execute = true
	consumer := newStubConsumer(map[int32][][]byte{
		0: {deadLetterValue(t, "outbox-1", "order.placed", `{"order_id":"o-1"}`)},
	})
	publisher := kafka.NewOutboxPublisher(kafka.NewProducerFromSync(syncProducer), cfg.targetTopic)

	r := &replayer{cfg: cfg, consumer: consumer, publisher: publisher, logger: quietLogger()}
	stats, err := r.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected one replayed event, got %+v", stats)
	}
	if err := syncProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayer_EventTypeFilterAndLimit(t *testing.T) {
	cfg := testConfig()
	cfg.eventType = "order.placed"
	cfg.limit = 2

	consumer := newStubConsumer(map[int32][][]byte{
		0: {
			deadLetterValue(t, "outbox-1", "order.status_changed", `{}`),
			deadLetterValue(t, "outbox-2", "order.placed", `{}`),
			deadLetterValue(t, "outbox-3", "order.placed", `{}`),
		},
		1: {deadLetterValue(t, "outbox-4", "order.placed", `{}`)},
	})
	publisher := &recordingPublisher{}

	r := &replayer{cfg: cfg, consumer: consumer, publisher: publisher, logger: quietLogger()}
	stats, err := r.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.skipped != 1 || stats.replayed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(publisher.events) != 2 || publisher.events[0].ID != "outbox-2" || publisher.events[1].ID != "outbox-3" {
		t.Fatalf("unexpected replayed events: %+v", publisher.events)
	}
	if consumer.partitions[1].opened {
		t.Fatal("partition 1 must not be read once the limit is reached")
	}
}

func TestReplayer_PublishErrorStops(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true
	consumer := newStubConsumer(map[int32][][]byte{
		0: {deadLetterValue(t, "outbox-1", "order.placed", `{}`), deadLetterValue(t, "outbox-2", "order.placed", `{}`)},
	})
	publisher := &recordingPublisher{err: errors.New("kafka down")}

	r := &replayer{cfg: cfg, consumer: consumer, publisher: publisher, logger: quietLogger()}
	stats, err := r.run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "outbox-1") {
		t.Fatalf("expected replay error for outbox-1, got %v", err)
	}
	if stats.replayed != 0 || stats.matched != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReplayer_ConsumerErrors(t *testing.T) {
	t.Run("partitions", func(t *testing.T) {
		consumer := newStubConsumer(nil)
		consumer.partitionsErr = sarama.ErrUnknownTopicOrPartition

		r := &replayer{cfg: testConfig(), consumer: consumer, logger: quietLogger()}
		if _, err := r.run(context.Background()); !errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
			t.Fatalf("expected unknown topic error, got %v", err)
		}
	})

	t.Run("consume partition", func(t *testing.T) {
		consumer := newStubConsumer(map[int32][][]byte{0: nil})
		consumer.consumeErr = sarama.ErrOffsetOutOfRange

		r := &replayer{cfg: testConfig(), consumer: consumer, logger: quietLogger()}
		if _, err := r.run(context.Background()); !errors.Is(err, sarama.ErrOffsetOutOfRange) {
			t.Fatalf("expected offset error, got %v", err)
		}
	})

	t.Run("partition error stream", func(t *testing.T) {
		consumer := newStubConsumer(map[int32][][]byte{0: nil})
		consumer.partitions[0].errors <- &sarama.ConsumerError{Topic: "replay.dlq", Partition: 0, Err: sarama.ErrNotLeaderForPartition}

		r := &replayer{cfg: testConfig(), consumer: consumer, logger: quietLogger()}
		if _, err := r.run(context.Background()); !errors.Is(err, sarama.ErrNotLeaderForPartition) {
			t.Fatalf("expected consumer error, got %v", err)
		}
	})
}

func TestReplayer_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.idleTimeout = time.Minute
	consumer := newStubConsumer(map[int32][][]byte{0: nil})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &replayer{cfg: cfg, consumer: consumer, logger: quietLogger()}
	if _, err := r.run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_UsesOpenKafka(t *testing.T) {
	consumer := newStubConsumer(map[int32][][]byte{
		0: {deadLetterValue(t, "outbox-1", "order.placed", `{}`)},
	})
	publisher := &recordingPublisher{}
	closed := false

	old := openKafka
	openKafka = func(cfg config) (sarama.Consumer, domain.OutboxPublisher, func() error, error) {
		if cfg.sourceTopic != "replay.dlq" {
			t.Errorf("unexpected source topic %s", cfg.sourceTopic)
		}
		return consumer, publisher, func() error {
			closed = true
			return nil
		}, nil
	}
	t.Cleanup(func() { openKafka = old })

	cfg := testConfig()
	cfg.execute = true
	stats, err := run(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.replayed != 1 || len(publisher.events) != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !closed {
		t.Fatal("kafka clients must be closed")
	}
}

func TestRun_OpenKafkaError(t *testing.T) {
	old := openKafka
	openKafka = func(config) (sarama.Consumer, domain.OutboxPublisher, func() error, error) {
		return nil, nil, nil, errors.New("no brokers reachable")
	}
	t.Cleanup(func() { openKafka = old })

	if _, err := run(context.Background(), testConfig(), quietLogger()); err == nil {
		t.Fatal("expected open error")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func testConfig() config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: "replay.dlq",
		targetTopic: "replay.events",
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

// deadLetterValue собирает сообщение DLQ так же, как его пишет outbox-воркер через публикатор.
func deadLetterValue(t *testing.T, outboxID, eventType, payload string) []byte {
	t.Helper()

	letter, err := json.Marshal(deadLetter{
		OutboxID:      outboxID,
		AggregateType: "order",
		AggregateID:   "order-" + outboxID,
		EventType:     eventType,
		Payload:       json.RawMessage(payload),
		Error:         "broker unavailable",
		FailedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}
	raw, err := json.Marshal(envelope{
		ID:            outboxID,
		AggregateType: "order",
		AggregateID:   "order-" + outboxID,
		EventType:     eventType,
		Payload:       letter,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

type stubConsumer struct {
	sarama.Consumer

	partitions    map[int32]*stubPartitionConsumer
	partitionsErr error
	consumeErr    error
}

func newStubConsumer(messages map[int32][][]byte) *stubConsumer {
	c := &stubConsumer{partitions: make(map[int32]*stubPartitionConsumer)}
	for partition, values := range messages {
		pc := &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage, len(values)),
			errors:   make(chan *sarama.ConsumerError, 1),
		}
		for offset, value := range values {
			pc.messages <- &sarama.ConsumerMessage{
				Topic:     "replay.dlq",
				Partition: partition,
				Offset:    int64(offset),
				Value:     value,
			}
		}
		c.partitions[partition] = pc
	}
	return c
}

func (c *stubConsumer) Partitions(string) ([]int32, error) {
	if c.partitionsErr != nil {
		return nil, c.partitionsErr
	}
	// Порядок намеренно обратный: replayer обязан сортировать партиции.
	ids := make([]int32, 0, len(c.partitions))
	for id := int32(len(c.partitions)) - 1; id >= 0; id-- {
		if _, ok := c.partitions[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *stubConsumer) ConsumePartition(_ string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	if offset != sarama.OffsetOldest {
		return nil, fmt.Errorf("unexpected offset %d", offset)
	}
	pc, ok := c.partitions[partition]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	pc.opened = true
	return pc, nil
}

func (c *stubConsumer) Close() error { return nil }

type stubPartitionConsumer struct {
	sarama.PartitionConsumer

	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	opened   bool
	closed   bool
}

func (pc *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return pc.messages }

func (pc *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError { return pc.errors }

func (pc *stubPartitionConsumer) Close() error {
	pc.closed = true
	return nil
}

type recordingPublisher struct {
	events []domain.OutboxMessage
	err    error
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}
