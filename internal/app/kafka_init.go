package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// initPublishers выбирает, куда outbox worker отправляет события.
// Без брокеров или при ошибке подключения события пишутся в лог, DLQ не используется.
func initPublishers(cfg Config, logger *log.Entry) (publisher, dlq domain.OutboxPublisher, producer *kafka.Producer) {
	logPublisher := outbox.NewLogPublisher(logger.WithField("publisher", "log"))

	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, store events go to log")
		return logPublisher, nil, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return logPublisher, nil, nil
	}

	logger.WithFields(log.Fields{
		"brokers": brokers,
		"topic":   cfg.KafkaTopic,
	}).Info("kafka producer initialized")
	return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic), producer
}

// closeKafkaProducer закрывает producer, если он был создан.
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
