package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig 从 ./configs/config.yaml 加载配置，缺省项使用默认值
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_lifetime", 30)
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_retry_backoff", 100)
	v.SetDefault("redis.max_retry_backoff", 5000)
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.retry_backoff", 200)
	v.SetDefault("kafka.producer.timeout", 5)
	v.SetDefault("presence.sweep_interval", 30)
	v.SetDefault("presence.timeout", 30)
	v.SetDefault("logstash.index", "logstash-chat")
}
