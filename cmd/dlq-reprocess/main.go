// Command dlq-reprocess перечитывает dead-letter топик outbox и возвращает события в рабочий топик.
// По умолчанию работает в режиме dry-run и только печатает найденные записи.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// envelope совпадает с сообщением, которое outbox-публикатор пишет в Kafka.
type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// deadLetter лежит в payload конверта DLQ.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (d deadLetter) outboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
	}
}

type replayStats struct {
	scanned  int
	matched  int
	replayed int
	skipped  int
	invalid  int
}

// openKafka подменяется в тестах.
var openKafka = func(cfg config) (sarama.Consumer, domain.OutboxPublisher, func() error, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return consumer, nil, consumer.Close, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID("foodoms-dlq-reprocess"))
	if err != nil {
		_ = consumer.Close()
		return nil, nil, nil, err
	}
	closeFn := func() error {
		return errors.Join(producer.Close(), consumer.Close())
	}
	return consumer, kafka.NewOutboxPublisher(producer, cfg.targetTopic), closeFn, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail("dlq-reprocess: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, log.WithField("component", "dlq-reprocess"))
	if err != nil {
		fail("dlq-reprocess: %v", err)
	}
	fmt.Printf("scanned=%d matched=%d replayed=%d skipped=%d invalid=%d execute=%t\n",
		stats.scanned, stats.matched, stats.replayed, stats.skipped, stats.invalid, cfg.execute)
}

func readConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	brokers := fs.String("brokers", getenv("OMS_KAFKA_BROKERS"), "comma separated kafka brokers")
	source := fs.String("source", firstNonEmpty(getenv("OMS_KAFKA_DLQ_TOPIC"), kafka.TopicDeadLetter), "dead-letter topic")
	target := fs.String("target", firstNonEmpty(getenv("OMS_KAFKA_ORDER_TOPIC"), kafka.TopicOrderEvents), "topic to replay events into")
	eventType := fs.String("event-type", "", "replay only events of this type")
	limit := fs.Int("limit", defaultReplayLimit, "maximum number of events to replay")
	execute := fs.Bool("execute", false, "publish events instead of a dry run")
	idle := fs.Duration("idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		brokers:     parseBrokers(*brokers),
		sourceTopic: strings.TrimSpace(*source),
		targetTopic: strings.TrimSpace(*target),
		eventType:   strings.TrimSpace(*eventType),
		limit:       *limit,
		execute:     *execute,
		idleTimeout: *idle,
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("no kafka brokers: set -brokers or OMS_KAFKA_BROKERS")
	case cfg.sourceTopic == "" || cfg.targetTopic == "":
		return config{}, errors.New("source and target topics are required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source and target topics must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be positive")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be positive")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config, logger *log.Entry) (replayStats, error) {
	consumer, publisher, closeFn, err := openKafka(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close kafka clients")
		}
	}()

	r := &replayer{cfg: cfg, consumer: consumer, publisher: publisher, logger: logger}
	return r.run(ctx)
}

type replayer struct {
	cfg       config
	consumer  sarama.Consumer
	publisher domain.OutboxPublisher // nil в dry-run
	logger    *log.Entry
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var stats replayStats

	partitions, err := r.consumer.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return stats, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if stats.matched >= r.cfg.limit {
			break
		}
		if err := r.drainPartition(ctx, partition, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// drainPartition читает партицию с начала, пока она не замолчит на idleTimeout или не исчерпан лимит.
func (r *replayer) drainPartition(ctx context.Context, partition int32, stats *replayStats) error {
	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	for stats.matched < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.idleTimeout):
			return nil
		case consumeErr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("consume partition %d: %w", partition, consumeErr.Err)
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			if err := r.handle(msg, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, err := decodeDeadLetter(msg.Value)
	if err != nil {
		stats.invalid++
		entry.WithError(err).Warn("skipping malformed dead letter")
		return nil
	}
	if r.cfg.eventType != "" && letter.EventType != r.cfg.eventType {
		stats.skipped++
		return nil
	}

	stats.matched++
	entry = entry.WithFields(log.Fields{
		"outbox_id":    letter.OutboxID,
		"event_type":   letter.EventType,
		"aggregate_id": letter.AggregateID,
		"failure":      letter.Error,
		"failed_at":    letter.FailedAt,
	})
	if r.publisher == nil {
		entry.Info("dry-run: event would be replayed")
		return nil
	}

	if err := r.publisher.Publish(letter.outboxMessage()); err != nil {
		return fmt.Errorf("replay outbox event %s: %w", letter.OutboxID, err)
	}
	stats.replayed++
	entry.Info("event replayed")
	return nil
}

// decodeDeadLetter разбирает конверт DLQ. Идентификатор и тип берутся из конверта, если их нет внутри.
func decodeDeadLetter(raw []byte) (deadLetter, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return deadLetter{}, fmt.Errorf("decode envelope: %w", err)
	}

	var letter deadLetter
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return deadLetter{}, errors.New("envelope has no dead letter payload")
	}
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		return deadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}

	letter.OutboxID = firstNonEmpty(letter.OutboxID, env.ID)
	letter.EventType = firstNonEmpty(letter.EventType, env.EventType)
	letter.AggregateType = firstNonEmpty(letter.AggregateType, env.AggregateType)
	letter.AggregateID = firstNonEmpty(letter.AggregateID, env.AggregateID)

	if letter.OutboxID == "" || letter.EventType == "" {
		return deadLetter{}, errors.New("dead letter misses outbox id or event type")
	}
	return letter, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
