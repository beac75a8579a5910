package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/messaging/kafka"
)

// connectEventBroker поднимает продюсер событий заказов. Пустой список
// брокеров выключает Kafka целиком; при недоступном брокере сервис
// стартует деградированным: события копятся в outbox, воркер отправит
// их после восстановления подключения.
func connectEventBroker(brokers string, logger *log.Entry) *kafka.Producer {
	list := splitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(list)
	if err != nil {
		logger.WithError(err).WithField("brokers", list).
			Warn("kafka недоступна, события заказов остаются в outbox")
		return nil
	}

	logger.WithField("brokers", list).Info("продюсер событий заказов подключен")
	return producer
}

// closeEventBroker останавливает продюсер, если он был поднят.
func closeEventBroker(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("ошибка при остановке продюсера событий")
		return
	}
	logger.Info("продюсер событий заказов остановлен")
}

func splitBrokers(raw string) []string {
	var list []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}
