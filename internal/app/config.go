package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
	"github.com/lu-lu-xue/OrderManagement/internal/service/saga"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/postgres"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса (локальный запуск, тесты).
	StorageDriverMemory = "memory"
	// PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"

	envPrefix     = "OMS"
	envConfigFile = "OMS_CONFIG_FILE"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Saga          SagaConfig          `mapstructure:"saga"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Log           LogConfig           `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// GRPCConfig задаёт адрес gRPC health/reflection для проб оркестратора контейнеров.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Pool — параметры пула для postgres.Open.
func (c PostgresConfig) Pool() postgres.Pool {
	return postgres.Pool{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// KafkaConfig настраивает шину событий. Brokers перечисляются через запятую.
type KafkaConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Brokers    string        `mapstructure:"brokers"`
	GroupID    string        `mapstructure:"group_id"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Topics     kafka.Topics  `mapstructure:"topics"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	// Срок хранения обработанных сообщений и период их очистки.
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// Возраст самого старого pending-сообщения, после которого /healthz degraded.
	MaxBacklogAge time.Duration `mapstructure:"max_backlog_age"`
}

type SagaConfig struct {
	ChargeMode      string `mapstructure:"charge_mode"`
	DefaultCurrency string `mapstructure:"default_currency"`
}

// CollaboratorsConfig настраивает синхронных соседей. Пустой URL означает in-memory реализацию.
type CollaboratorsConfig struct {
	InventoryURL        string        `mapstructure:"inventory_url"`
	PaymentURL          string        `mapstructure:"payment_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures  int           `mapstructure:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	ProductCacheTTL     time.Duration `mapstructure:"product_cache_ttl"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8080"},
		Metrics: MetricsConfig{Addr: ":9090"},
		GRPC:    GRPCConfig{Addr: ":50051"},
		Storage: StorageConfig{
			Driver: StorageDriverMemory,
			Postgres: PostgresConfig{
				AutoMigrate:     true,
				MaxOpenConns:    25,
				MaxIdleConns:    25,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Kafka: KafkaConfig{
			Brokers:    "localhost:9092",
			GroupID:    "order-service",
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
			Topics:     kafka.DefaultTopics(),
		},
		Outbox: OutboxConfig{
			PollInterval:    time.Second,
			BatchSize:       100,
			MaxAttempts:     3,
			RetryDelay:      100 * time.Millisecond,
			Retention:       72 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			MaxBacklogAge:   5 * time.Minute,
		},
		Saga: SagaConfig{
			ChargeMode:      string(saga.ChargeModeAsync),
			DefaultCurrency: "USD",
		},
		Collaborators: CollaboratorsConfig{
			Timeout:             3 * time.Second,
			BreakerMaxFailures:  5,
			BreakerResetTimeout: 30 * time.Second,
			ProductCacheTTL:     5 * time.Minute,
		},
		Telemetry: TelemetryConfig{ServiceName: "order-service", Insecure: true},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig читает конфигурацию: значения по умолчанию, затем файл (path, OMS_CONFIG_FILE
// или ./config.yaml, если есть), затем переменные окружения OMS_<SECTION>_<KEY>.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Storage.Postgres.DSN = strings.TrimSpace(cfg.Storage.Postgres.DSN)
	cfg.Kafka.Topics = cfg.Kafka.Topics.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults регистрирует каждый ключ, иначе AutomaticEnv не увидит переменные для
// ключей, отсутствующих в файле.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("grpc.addr", d.GRPC.Addr)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.postgres.dsn", d.Storage.Postgres.DSN)
	v.SetDefault("storage.postgres.auto_migrate", d.Storage.Postgres.AutoMigrate)
	v.SetDefault("storage.postgres.max_open_conns", d.Storage.Postgres.MaxOpenConns)
	v.SetDefault("storage.postgres.max_idle_conns", d.Storage.Postgres.MaxIdleConns)
	v.SetDefault("storage.postgres.conn_max_lifetime", d.Storage.Postgres.ConnMaxLifetime)
	v.SetDefault("storage.postgres.conn_max_idle_time", d.Storage.Postgres.ConnMaxIdleTime)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.max_retries", d.Kafka.MaxRetries)
	v.SetDefault("kafka.retry_delay", d.Kafka.RetryDelay)
	t := d.Kafka.Topics
	for key, value := range map[string]string{
		"inventory_reduction":          t.InventoryReduction,
		"inventory_restock":            t.InventoryRestock,
		"payment_charge":               t.PaymentCharge,
		"payment_refund":               t.PaymentRefund,
		"notification_prefix":          t.NotificationPrefix,
		"operator_alert":               t.OperatorAlert,
		"payment_confirmed":            t.PaymentConfirmed,
		"payment_failed":               t.PaymentFailed,
		"inventory_reserved":           t.InventoryReserved,
		"inventory_reservation_failed": t.InventoryReservationFailed,
		"refund_completed":             t.RefundCompleted,
		"refund_failed":                t.RefundFailed,
		"order_shipped":                t.OrderShipped,
		"order_delivered":              t.OrderDelivered,
		"dead_letter_suffix":           t.DeadLetterSuffix,
	} {
		v.SetDefault("kafka.topics."+key, value)
	}

	v.SetDefault("outbox.poll_interval", d.Outbox.PollInterval)
	v.SetDefault("outbox.batch_size", d.Outbox.BatchSize)
	v.SetDefault("outbox.max_attempts", d.Outbox.MaxAttempts)
	v.SetDefault("outbox.retry_delay", d.Outbox.RetryDelay)
	v.SetDefault("outbox.retention", d.Outbox.Retention)
	v.SetDefault("outbox.cleanup_interval", d.Outbox.CleanupInterval)
	v.SetDefault("outbox.max_backlog_age", d.Outbox.MaxBacklogAge)

	v.SetDefault("saga.charge_mode", d.Saga.ChargeMode)
	v.SetDefault("saga.default_currency", d.Saga.DefaultCurrency)

	v.SetDefault("collaborators.inventory_url", d.Collaborators.InventoryURL)
	v.SetDefault("collaborators.payment_url", d.Collaborators.PaymentURL)
	v.SetDefault("collaborators.timeout", d.Collaborators.Timeout)
	v.SetDefault("collaborators.breaker_max_failures", d.Collaborators.BreakerMaxFailures)
	v.SetDefault("collaborators.breaker_reset_timeout", d.Collaborators.BreakerResetTimeout)
	v.SetDefault("collaborators.redis_addr", d.Collaborators.RedisAddr)
	v.SetDefault("collaborators.product_cache_ttl", d.Collaborators.ProductCacheTTL)

	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate проверяет значения, без которых сервис не стартует.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for postgres storage")
		}
		if pg := c.Storage.Postgres; pg.MaxOpenConns < 0 || pg.MaxIdleConns < 0 {
			return errors.New("storage.postgres pool sizes must not be negative")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch saga.ChargeMode(c.Saga.ChargeMode) {
	case saga.ChargeModeAsync, saga.ChargeModeSync:
	default:
		return fmt.Errorf("unsupported saga.charge_mode %q", c.Saga.ChargeMode)
	}

	if c.Kafka.Enabled && strings.TrimSpace(c.Kafka.Brokers) == "" {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 || c.Outbox.PollInterval <= 0 {
		return errors.New("outbox poll_interval, batch_size and max_attempts must be positive")
	}
	return nil
}

// NewLogger создаёт logrus-логгер по секции log.
func NewLogger(cfg LogConfig) (*log.Logger, error) {
	logger := log.New()
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log.format %q", cfg.Format)
	}
	return logger, nil
}

// brokerList разбирает список брокеров через запятую, отбрасывая пустые элементы.
func brokerList(brokers string) []string {
	var result []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			result = append(result, b)
		}
	}
	return result
}
