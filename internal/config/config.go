package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR"   default:"localhost:6379"`
	LogLevel    string `envconfig:"LOG_LEVEL"    default:"info"`

	SMPP     SMPPConfig
	Kafka    KafkaConfig
	Consumer ConsumerConfig
	Ledger   LedgerConfig
	Registry RegistryConfig
}

// SMPPConfig holds per-session defaults; providers loaded from the database
// may override host/port/credentials but inherit the timing knobs here.
type SMPPConfig struct {
	ConnectTimeout       time.Duration `envconfig:"SMPP_CONNECT_TIMEOUT"        default:"5s"`
	RequestTimeout       time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT"        default:"10s"`
	EnquireLinkInterval  time.Duration `envconfig:"SMPP_ENQUIRE_LINK_INTERVAL"  default:"30s"`
	EnquireLinkGrace     time.Duration `envconfig:"SMPP_ENQUIRE_LINK_GRACE"     default:"10s"`
	ReconnectDelay       time.Duration `envconfig:"SMPP_RECONNECT_DELAY"        default:"5s"`
	ReconnectMaxDelay    time.Duration `envconfig:"SMPP_RECONNECT_MAX_DELAY"    default:"1m"`
	ReconnectExponential bool          `envconfig:"SMPP_RECONNECT_EXPONENTIAL"  default:"true"`
	MaxReconnectAttempts int           `envconfig:"SMPP_MAX_RECONNECT_ATTEMPTS" default:"10"`
	MaxWindowSize        uint          `envconfig:"SMPP_MAX_WINDOW_SIZE"        default:"32"`
}

// KafkaConfig holds broker topology and topic names.
type KafkaConfig struct {
	Brokers         []string `envconfig:"KAFKA_BROKERS"           default:"localhost:9092"`
	ClientID        string   `envconfig:"KAFKA_CLIENT_ID"         default:"smpp-gateway"`
	GroupID         string   `envconfig:"KAFKA_GROUP_ID"          default:"sms-consumers"`
	SendTopic       string   `envconfig:"KAFKA_SEND_TOPIC"        default:"sms-requests"`
	DeadLetterTopic string   `envconfig:"KAFKA_DEAD_LETTER_TOPIC" default:"sms-dead-letter"`
}

// ConsumerConfig bounds the batching dispatcher.
type ConsumerConfig struct {
	BatchSize    int           `envconfig:"CONSUMER_BATCH_SIZE"    default:"10"`
	MaxWait      time.Duration `envconfig:"CONSUMER_MAX_WAIT"      default:"1s"`
	MaxRetries   int           `envconfig:"CONSUMER_MAX_RETRIES"   default:"3"`
	RetryBackoff time.Duration `envconfig:"CONSUMER_RETRY_BACKOFF" default:"5s"`
}

// LedgerConfig holds billing parameters.
type LedgerConfig struct {
	UnitPrice string `envconfig:"LEDGER_UNIT_PRICE" default:"0.042"`
}

// RegistryConfig selects the default routing target at startup.
type RegistryConfig struct {
	ActiveProviderID string `envconfig:"REGISTRY_ACTIVE_PROVIDER" default:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
