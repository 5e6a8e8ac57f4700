package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	InstanceID             string `mapstructure:"instance_id"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	LogLevel               string `mapstructure:"log_level"`
	AllowOrigins           string `mapstructure:"allow_origins"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type MongoConfig struct {
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	MessagesCollection      string `mapstructure:"messages_collection"`
	NotificationsCollection string `mapstructure:"notifications_collection"`
	UsersCollection         string `mapstructure:"users_collection"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	TopicChatEvents    string   `mapstructure:"topic_chat_events"`
	TopicNotifications string   `mapstructure:"topic_notifications"`
	GroupID            string   `mapstructure:"group_id"`
	DLQTopic           string   `mapstructure:"dlq_topic"`
	MaxRetries         int      `mapstructure:"max_retries"`
	RetryBackoffMs     int      `mapstructure:"retry_backoff_ms"`
}

type EventsConfig struct {
	Driver string `mapstructure:"driver"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	MessagesPerSecond    int   `mapstructure:"messages_per_second"`
	TypingIdleMs         int   `mapstructure:"typing_idle_ms"`
}

type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type NotificationsConfig struct {
	PurgeIntervalSeconds int `mapstructure:"purge_interval_seconds"`
}

type S3Config struct {
	Region            string `mapstructure:"region"`
	Bucket            string `mapstructure:"bucket"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
}

type ConsulConfig struct {
	Addr        string `mapstructure:"addr"`
	ServiceName string `mapstructure:"service_name"`
	ServiceHost string `mapstructure:"service_host"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Events        EventsConfig        `mapstructure:"events"`
	NATS          NATSConfig          `mapstructure:"nats"`
	WS            WSConfig            `mapstructure:"ws"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	S3            S3Config            `mapstructure:"s3"`
	Consul        ConsulConfig        `mapstructure:"consul"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`

	// derived
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	TypingIdle      time.Duration
	PresenceTTL     time.Duration
	RateWindow      time.Duration
	PurgeInterval   time.Duration
	PresignTTL      time.Duration
	ShutdownTimeout time.Duration
	RetryBackoff    time.Duration
}

func (c *Config) Development() bool { return c.App.Env == "development" }

// Load reads path (optional), .env and the environment. MONGO_URI overrides mongo.uri etc.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	// viper does not split env lists
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		c.Kafka.Brokers = strings.Split(raw, ",")
	}
	derive(&c)
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8086)
	v.SetDefault("app.instance_id", "")
	v.SetDefault("app.shutdown_timeout_seconds", 15)
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.allow_origins", "*")

	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "tiffin")
	v.SetDefault("mongo.messages_collection", "chatmessages")
	v.SetDefault("mongo.notifications_collection", "notifications")
	v.SetDefault("mongo.users_collection", "users")

	v.SetDefault("store.driver", "mongo")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ws")
	v.SetDefault("redis.presence_ttl_seconds", 60)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_chat_events", "chat.events")
	v.SetDefault("kafka.topic_notifications", "notifications.outbound")
	v.SetDefault("kafka.group_id", "tiffin-realtime")
	v.SetDefault("kafka.dlq_topic", "notifications.dlq")
	v.SetDefault("kafka.max_retries", 5)
	v.SetDefault("kafka.retry_backoff_ms", 500)

	v.SetDefault("events.driver", "none")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "chat")

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.messages_per_second", 20)
	v.SetDefault("ws.typing_idle_ms", 3000)

	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("notifications.purge_interval_seconds", 60)

	v.SetDefault("s3.region", "ap-south-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.presign_ttl_seconds", 900)

	v.SetDefault("consul.addr", "")
	v.SetDefault("consul.service_name", "tiffin-realtime")
	v.SetDefault("consul.service_host", "")

	v.SetDefault("metrics.enabled", true)
}

func derive(c *Config) {
	if c.WS.PingIntervalSeconds <= 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.WriteDeadlineSeconds <= 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes <= 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 256
	}
	if c.WS.MessagesPerSecond <= 0 {
		c.WS.MessagesPerSecond = 20
	}
	if c.WS.TypingIdleMs <= 0 {
		c.WS.TypingIdleMs = 3000
	}
	if c.Redis.PresenceTTLSeconds <= 0 {
		c.Redis.PresenceTTLSeconds = 60
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Notifications.PurgeIntervalSeconds <= 0 {
		c.Notifications.PurgeIntervalSeconds = 60
	}
	if c.App.ShutdownTimeoutSeconds <= 0 {
		c.App.ShutdownTimeoutSeconds = 15
	}
	if c.S3.PresignTTLSeconds <= 0 {
		c.S3.PresignTTLSeconds = 900
	}
	if c.App.InstanceID == "" {
		host, _ := os.Hostname()
		c.App.InstanceID = fmt.Sprintf("%s-%d", host, c.App.Port)
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.TypingIdle = time.Duration(c.WS.TypingIdleMs) * time.Millisecond
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.RateWindow = time.Duration(c.RateLimit.WindowSeconds) * time.Second
	c.PurgeInterval = time.Duration(c.Notifications.PurgeIntervalSeconds) * time.Second
	c.PresignTTL = time.Duration(c.S3.PresignTTLSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.RetryBackoff = time.Duration(c.Kafka.RetryBackoffMs) * time.Millisecond
}

func validate(c *Config) error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", c.App.Port)
	}
	switch strings.ToUpper(c.JWT.Alg) {
	case "HS256":
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Events.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers required for events.driver=kafka")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url required for events.driver=nats")
		}
	case "none", "":
	default:
		return fmt.Errorf("unknown events.driver %q", c.Events.Driver)
	}
	if c.Redis.Addr != "" && !strings.Contains(c.Redis.Addr, ":") {
		return fmt.Errorf("invalid redis.addr %s (must be host:port)", c.Redis.Addr)
	}
	return nil
}
