package redis

import (
	"context"
	"errors"
	log "log/slog"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// HandlerFunc 处理订阅到的一条消息
type HandlerFunc func(ctx context.Context, topic string, payload []byte)

// Broker 基于 Redis Pub/Sub 的主题通道，至多一次投递
type Broker struct {
	rdb *redis.Client
}

// NewBroker 只接受已完成握手的客户端（见 InitRedis）
func NewBroker(rdb *redis.Client) (*Broker, error) {
	if rdb == nil {
		return nil, errors.New("redis broker requires a connected client")
	}
	return &Broker{rdb: rdb}, nil
}

// Publish 序列化后发布到 topic，连接断开时错误直接返回给调用方
func (b *Broker) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errors.New("broker topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, topic, data).Err()
}

// Subscribe 按模式订阅，阻塞直到 ctx 结束；断线期间的消息会丢失
func (b *Broker) Subscribe(ctx context.Context, pattern string, handler HandlerFunc) error {
	pubsub := b.rdb.PSubscribe(ctx, pattern)
	defer func() {
		_ = pubsub.Close()
	}()

	// 等待订阅确认，保证返回前已生效
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	log.Info("Broker subscription started", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("Broker subscription stopped", "pattern", pattern)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}
