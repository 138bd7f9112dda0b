package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env        string `mapstructure:"env"`
	Name       string `mapstructure:"name"`
	Port       int    `mapstructure:"port"`
	InstanceID string `mapstructure:"instance_id"`
}

func (a AppConfig) PortString() string { return strconv.Itoa(a.Port) }

func (a AppConfig) Dev() bool { return a.Env == "dev" || a.Env == "development" }

type MongoConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	MessagesCollection      string `mapstructure:"messages_collection"`
	ConversationsCollection string `mapstructure:"conversations_collection"`
	ConnectTimeoutSeconds   int    `mapstructure:"connect_timeout_seconds"`
	OpTimeoutSeconds        int    `mapstructure:"op_timeout_seconds"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Pass               string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
	RelayChannel       string `mapstructure:"relay_channel"`
}

type BreakerConfig struct {
	MaxFailures     uint32 `mapstructure:"max_failures"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

type KafkaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Brokers     []string      `mapstructure:"brokers"`
	TopicEvents string        `mapstructure:"topic_events"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type WSConfig struct {
	PingIntervalSeconds  int     `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds      int     `mapstructure:"pong_wait_seconds"`
	WriteDeadlineSeconds int     `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64   `mapstructure:"max_message_size_bytes"`
	SendBuffer           int     `mapstructure:"send_buffer"`
	RatePerSecond        float64 `mapstructure:"rate_per_second"`
	Burst                int     `mapstructure:"burst"`
}

type JWTConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type HTTPConfig struct {
	RateLimitPerMinute    int `mapstructure:"rate_limit_per_minute"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

type S3Config struct {
	Enabled          bool   `mapstructure:"enabled"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	Endpoint         string `mapstructure:"endpoint"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
	UploadTTLSeconds int    `mapstructure:"upload_ttl_seconds"`
}

type ConsulConfig struct {
	Addr                 string `mapstructure:"addr"`
	ServiceName          string `mapstructure:"service_name"`
	ServiceAddress       string `mapstructure:"service_address"`
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
}

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	WS     WSConfig     `mapstructure:"ws"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	S3     S3Config     `mapstructure:"s3"`
	Consul ConsulConfig `mapstructure:"consul"`

	// derived
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteDeadline  time.Duration `mapstructure:"-"`
	PresenceTTL    time.Duration `mapstructure:"-"`
	OpTimeout      time.Duration `mapstructure:"-"`
	ConnectTimeout time.Duration `mapstructure:"-"`
	RequestTimeout time.Duration `mapstructure:"-"`
	UploadTTL      time.Duration `mapstructure:"-"`
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.name", "chat-service")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.instance_id", "")

	v.SetDefault("mongo.enabled", true)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "astromeeting")
	v.SetDefault("mongo.messages_collection", "messages")
	v.SetDefault("mongo.conversations_collection", "conversations")
	v.SetDefault("mongo.connect_timeout_seconds", 10)
	v.SetDefault("mongo.op_timeout_seconds", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ws")
	v.SetDefault("redis.presence_ttl_seconds", 90)
	v.SetDefault("redis.relay_channel", "ws:global")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_events", "chat.events")
	v.SetDefault("kafka.breaker.max_failures", 5)
	v.SetDefault("kafka.breaker.interval_seconds", 60)
	v.SetDefault("kafka.breaker.timeout_seconds", 30)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_per_second", 20)
	v.SetDefault("ws.burst", 40)

	v.SetDefault("jwt.enabled", false)
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("http.rate_limit_per_minute", 600)
	v.SetDefault("http.request_timeout_seconds", 5)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "eu-west-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.public_base_url", "")
	v.SetDefault("s3.upload_ttl_seconds", 900)

	v.SetDefault("consul.addr", "")
	v.SetDefault("consul.service_name", "chat-service")
	v.SetDefault("consul.service_address", "")
	v.SetDefault("consul.check_interval_seconds", 10)
}

// Load reads the yaml file at path (optional when empty) and layers env vars
// on top, e.g. MONGO_URI overrides mongo.uri.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.OpTimeout = time.Duration(c.Mongo.OpTimeoutSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.Mongo.ConnectTimeoutSeconds) * time.Second
	c.RequestTimeout = time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
	c.UploadTTL = time.Duration(c.S3.UploadTTLSeconds) * time.Second
	return &c, nil
}

func (c *Config) validate() error {
	if c.WS.PingIntervalSeconds >= c.WS.PongWaitSeconds {
		return errors.New("ws.ping_interval_seconds must be lower than ws.pong_wait_seconds")
	}
	if c.JWT.Enabled {
		switch c.JWT.Algorithm {
		case "HS256":
			if c.JWT.HSSecret == "" {
				return errors.New("jwt.hs_secret is required for HS256")
			}
		case "RS256":
			if c.JWT.PublicKeyPath == "" {
				return errors.New("jwt.public_key_path is required for RS256")
			}
		default:
			return errors.New("jwt.algorithm must be HS256 or RS256")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return errors.New("s3.bucket is required when s3 is enabled")
	}
	return nil
}
