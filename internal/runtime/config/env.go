package config

import (
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// FromEnv loads a Config from environment variables. Unset keys fall back to
// the defaults described on Config.
func FromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PUBSUB_SYSTEM", DefaultPubSubSystem)
	v.SetDefault("APP_NAME", DefaultAppName)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_START_OFFSET", DefaultStartOffset)
	v.SetDefault("MEMORY_PARTITIONS", DefaultMemoryPartitions)
	v.SetDefault("CONNECT_MAX_ATTEMPTS", DefaultConnectMaxAttempts)
	v.SetDefault("CONNECT_INITIAL_INTERVAL", DefaultConnectInitialInterval)
	v.SetDefault("CONNECT_MAX_INTERVAL", DefaultConnectMaxInterval)
	v.SetDefault("CONNECT_TIMEOUT", DefaultConnectTimeout)
	v.SetDefault("PUBLISH_TIMEOUT", DefaultPublishTimeout)
	v.SetDefault("HANDLER_RETRY_INTERVAL", DefaultHandlerRetryInterval)
	v.SetDefault("METRICS_ADDRESS", DefaultMetricsAddress)
	v.SetDefault("HTTP_ADDRESS", DefaultHTTPAddress)

	env := v.GetString("NODE_ENV")
	if env == "" {
		env = v.GetString("APP_ENV")
	}

	cfg := Config{
		PubSubSystem:           v.GetString("PUBSUB_SYSTEM"),
		AppName:                v.GetString("APP_NAME"),
		Environment:            env,
		KafkaBrokers:           splitList(v.GetString("KAFKA_BROKERS")),
		KafkaClientID:          v.GetString("KAFKA_CLIENT_ID"),
		KafkaStartOffset:       v.GetString("KAFKA_START_OFFSET"),
		ConsumerGroup:          v.GetString("KAFKA_GROUP_ID"),
		RabbitMQURL:            v.GetString("RABBITMQ_URL"),
		NATSURL:                v.GetString("NATS_URL"),
		AWSRegion:              v.GetString("AWS_REGION"),
		AWSAccountID:           v.GetString("AWS_ACCOUNT_ID"),
		AWSAccessKeyID:         v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:     v.GetString("AWS_SECRET_ACCESS_KEY"),
		AWSEndpoint:            v.GetString("AWS_ENDPOINT_URL"),
		MemoryPartitions:       v.GetInt("MEMORY_PARTITIONS"),
		ConnectMaxAttempts:     v.GetInt("CONNECT_MAX_ATTEMPTS"),
		ConnectInitialInterval: v.GetDuration("CONNECT_INITIAL_INTERVAL"),
		ConnectMaxInterval:     v.GetDuration("CONNECT_MAX_INTERVAL"),
		ConnectTimeout:         v.GetDuration("CONNECT_TIMEOUT"),
		PublishTimeout:         v.GetDuration("PUBLISH_TIMEOUT"),
		HandlerMaxRetries:      v.GetInt("HANDLER_MAX_RETRIES"),
		HandlerRetryInterval:   v.GetDuration("HANDLER_RETRY_INTERVAL"),
		DeadLetterTopic:        v.GetString("DEAD_LETTER_TOPIC"),
		MetricsEnabled:         v.GetBool("METRICS_ENABLED"),
		MetricsAddress:         v.GetString("METRICS_ADDRESS"),
		HTTPAddress:            v.GetString("HTTP_ADDRESS"),
		AuditDatabaseURL:       v.GetString("AUDIT_DATABASE_URL"),
	}
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList turns "a, b,c" into [a b c].
func splitList(raw string) []string {
	return cast.ToStringSlice(strings.ReplaceAll(raw, ",", " "))
}
