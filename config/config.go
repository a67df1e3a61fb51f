package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Bot      BotConfig      `mapstructure:"bot"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers       []string            `mapstructure:"brokers"`
	ConsumerGroup string              `mapstructure:"consumer_group"`
	Topics        KafkaTopicsConfig   `mapstructure:"topics"`
	Producer      KafkaProducerConfig `mapstructure:"producer"`
	Consumer      KafkaConsumerConfig `mapstructure:"consumer"`
}

type KafkaTopicsConfig struct {
	Tasks string `mapstructure:"tasks"`
	DLQ   string `mapstructure:"dlq"`
}

type KafkaProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type KafkaConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// WhatsAppConfig configures the outbound message provider. Green API is
// the primary provider; the Meta Business API payload shape is still
// accepted on the inbound webhook.
type WhatsAppConfig struct {
	InstanceID  string        `mapstructure:"instance_id"`
	Token       string        `mapstructure:"token"`
	BaseURL     string        `mapstructure:"base_url"`
	VerifyToken string        `mapstructure:"verify_token"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type AdminConfig struct {
	Username      string `mapstructure:"username"`
	PasswordHash  string `mapstructure:"password_hash"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// CrawlConfig holds the group-matching and progression tunables. They are
// injected into the services at construction time so tests can pin them.
type CrawlConfig struct {
	MinGroupSize        int           `mapstructure:"min_group_size"`
	MaxGroupSize        int           `mapstructure:"max_group_size"`
	MeetingOffset       time.Duration `mapstructure:"meeting_offset"`
	ProgressionInterval time.Duration `mapstructure:"progression_interval"`
	SessionMaxDuration  time.Duration `mapstructure:"session_max_duration"`
	// CutoffHour is the local hour after which no further bar progressions
	// are scheduled.
	CutoffHour    int           `mapstructure:"cutoff_hour"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// CleanupHour is the local hour at which stale forming groups from the
	// previous day are cancelled.
	CleanupHour int `mapstructure:"cleanup_hour"`
}

// BotConfig holds webhook filtering thresholds and the signup
// conversation choice lists.
type BotConfig struct {
	MessageCooldown time.Duration `mapstructure:"message_cooldown"`
	UserCooldown    time.Duration `mapstructure:"user_cooldown"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	StateTimeout    time.Duration `mapstructure:"state_timeout"`
	Areas           []string      `mapstructure:"areas"`
	GroupTypes      []string      `mapstructure:"group_types"`
	Genders         []string      `mapstructure:"genders"`
	AgeRanges       []string      `mapstructure:"age_ranges"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// DefaultCrawlConfig returns the production defaults. Tests use it as a
// baseline and override the thresholds they exercise.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MinGroupSize:        3,
		MaxGroupSize:        5,
		MeetingOffset:       30 * time.Minute,
		ProgressionInterval: time.Hour,
		SessionMaxDuration:  8 * time.Hour,
		CutoffHour:          23,
		SweepInterval:       time.Hour,
		CleanupHour:         6,
	}
}

// DefaultBotConfig returns the default webhook thresholds and the
// Manchester choice lists used by the signup conversation.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		MessageCooldown: 30 * time.Second,
		UserCooldown:    10 * time.Second,
		RateLimitWindow: 5 * time.Minute,
		RateLimitMax:    5,
		StateTimeout:    30 * time.Minute,
		Areas:           []string{"northern quarter", "city centre", "deansgate", "ancoats", "spinningfields"},
		GroupTypes:      []string{"mixed", "males only", "females only"},
		Genders:         []string{"male", "female", "prefer not to say"},
		AgeRanges:       []string{"18-25", "26-35", "36-45", "46+"},
	}
}
