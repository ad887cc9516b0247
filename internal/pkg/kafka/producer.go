package kafka

import (
	"TelegramMini/internal/api/config"
	"context"
	"errors"
	log "log/slog"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// HeaderBrokerTopic 原始 broker 主题，消费方据此区分事件类型
const HeaderBrokerTopic = "broker_topic"

// EventProducer 将 broker 事件镜像到一个 Kafka topic，供需要持久化的旁路消费者使用
// 以 broker 主题为 key，同一会话的事件落在同一分区
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewEventProducer(cfg config.KafkaConfig) (*EventProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, err
	}
	log.Info("Kafka event producer initialized", "topic", cfg.Topic)
	return newEventProducer(producer, cfg.Topic), nil
}

func newEventProducer(producer sarama.SyncProducer, topic string) *EventProducer {
	return &EventProducer{producer: producer, topic: topic}
}

func (p *EventProducer) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(topic),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderBrokerTopic), Value: []byte(topic)},
		},
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *EventProducer) Close() error {
	return p.producer.Close()
}
