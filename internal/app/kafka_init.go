package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/foodoms/internal/service/notify"
)

// messagingDependencies — издатели событий и уведомлений.
type messagingDependencies struct {
	producer   *kafka.Producer
	outbox     domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	notifier   domain.Notifier
}

// initMessaging подключает Kafka, если заданы брокеры. Без Kafka уведомления пишутся в лог,
// а outbox-события копятся в хранилище до появления брокера.
func initMessaging(cfg Config, logger *log.Entry) messagingDependencies {
	logNotifier := notify.NewLogNotifier(logger.WithField("layer", "notifier"))

	producer := initKafkaProducer(cfg.kafkaBrokers(), logger)
	if producer == nil {
		return messagingDependencies{notifier: logNotifier}
	}
	return messagingDependencies{
		producer:   producer,
		outbox:     kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic),
		deadLetter: kafka.NewOutboxPublisher(producer, cfg.KafkaDeadLetterTopic),
		notifier:   notify.NewKafkaNotifier(producer, cfg.KafkaNotifyTopic),
	}
}

// initKafkaProducer создаёт producer. Ошибка подключения не останавливает сервис.
func initKafkaProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(brokers, kafka.WithClientID("foodoms-order-service"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
