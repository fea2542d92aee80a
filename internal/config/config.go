package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App        AppConfig
	Discord    DiscordConfig
	Store      StoreConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Lifecycle  LifecycleConfig
	Inactivity InactivityConfig
	Delivery   DeliveryConfig
	Snowflake  SnowflakeConfig
}

// AppConfig controls the admin HTTP server.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	PanelFile             string
}

// DiscordConfig holds the chat platform connection and guild layout.
type DiscordConfig struct {
	Token            string
	GuildID          string
	PanelChannelID   string
	ArchiveChannelID string
	SupporterRoleIDs []string
	OwnerOverrideID  string
}

// StoreConfig selects the durable ticket store backend.
type StoreConfig struct {
	Driver         string
	SQLitePath     string
	TimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables the event stream.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	StreamMax int64
}

// MQTTConfig holds broker values. An empty BrokerURL disables MQTT publication.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin API token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// DuplicatePolicy decides what happens when a user opens a second ticket in a category.
type DuplicatePolicy string

const (
	DuplicateReject DuplicatePolicy = "reject"
	DuplicateReuse  DuplicatePolicy = "reuse"
)

// TransferPolicy decides which supporters may transfer a claimed ticket.
type TransferPolicy string

const (
	TransferByClaimant     TransferPolicy = "claimant"
	TransferByAnySupporter TransferPolicy = "any_supporter"
)

// LifecycleConfig holds ticket policy switches.
type LifecycleConfig struct {
	DuplicatePolicy DuplicatePolicy
	TransferPolicy  TransferPolicy
	ChannelPrefix   string
}

// InactivityConfig holds the warn delay (Tw) and the grace period (Tc).
type InactivityConfig struct {
	WarnAfter  time.Duration
	CloseAfter time.Duration
}

// DeliveryConfig bounds retries of idempotent platform calls.
type DeliveryConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// SnowflakeConfig configures ticket id generation.
type SnowflakeConfig struct {
	NodeID int64
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	warnAfter, err := time.ParseDuration(getEnv("INACTIVITY_WARN_AFTER", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid INACTIVITY_WARN_AFTER: %w", err)
	}
	closeAfter, err := time.ParseDuration(getEnv("INACTIVITY_CLOSE_AFTER", "12h"))
	if err != nil {
		return nil, fmt.Errorf("invalid INACTIVITY_CLOSE_AFTER: %w", err)
	}
	retryDelay, err := time.ParseDuration(getEnv("DELIVERY_RETRY_DELAY", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid DELIVERY_RETRY_DELAY: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-ticket-bot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			PanelFile:             getEnv("PANEL_FILE", "panel.yaml"),
		},
		Discord: DiscordConfig{
			Token:            os.Getenv("DISCORD_TOKEN"),
			GuildID:          os.Getenv("DISCORD_GUILD_ID"),
			PanelChannelID:   os.Getenv("DISCORD_PANEL_CHANNEL_ID"),
			ArchiveChannelID: os.Getenv("DISCORD_ARCHIVE_CHANNEL_ID"),
			SupporterRoleIDs: getEnvAsList("DISCORD_SUPPORTER_ROLE_IDS"),
			OwnerOverrideID:  os.Getenv("DISCORD_OWNER_OVERRIDE_ID"),
		},
		Store: StoreConfig{
			Driver:         getEnv("STORE_DRIVER", "sqlite"),
			SQLitePath:     getEnv("STORE_SQLITE_PATH", "./data/tickets.db"),
			TimeoutSeconds: getEnvAsInt("STORE_TIMEOUT_SECONDS", 5),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			Stream:    getEnv("REDIS_EVENT_STREAM", "ticket-events"),
			StreamMax: int64(getEnvAsInt("REDIS_EVENT_STREAM_MAXLEN", 10000)),
		},
		MQTT: MQTTConfig{
			BrokerURL:   os.Getenv("MQTT_BROKER"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "ticket-bot"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "ticketbot/tickets"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("ADMIN_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("ADMIN_TOKEN_TTL_MINUTES", 60),
		},
		Lifecycle: LifecycleConfig{
			DuplicatePolicy: DuplicatePolicy(getEnv("TICKET_DUPLICATE_POLICY", string(DuplicateReject))),
			TransferPolicy:  TransferPolicy(getEnv("TICKET_TRANSFER_POLICY", string(TransferByAnySupporter))),
			ChannelPrefix:   getEnv("TICKET_CHANNEL_PREFIX", "ticket"),
		},
		Inactivity: InactivityConfig{
			WarnAfter:  warnAfter,
			CloseAfter: closeAfter,
		},
		Delivery: DeliveryConfig{
			MaxAttempts: getEnvAsInt("DELIVERY_MAX_ATTEMPTS", 3),
			RetryDelay:  retryDelay,
		},
		Snowflake: SnowflakeConfig{
			NodeID: int64(getEnvAsInt("SNOWFLAKE_NODE_ID", 1)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the lifecycle cannot run with.
func (c *Config) Validate() error {
	switch c.Lifecycle.DuplicatePolicy {
	case DuplicateReject, DuplicateReuse:
	default:
		return fmt.Errorf("invalid TICKET_DUPLICATE_POLICY %q", c.Lifecycle.DuplicatePolicy)
	}
	switch c.Lifecycle.TransferPolicy {
	case TransferByClaimant, TransferByAnySupporter:
	default:
		return fmt.Errorf("invalid TICKET_TRANSFER_POLICY %q", c.Lifecycle.TransferPolicy)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN required for postgres store")
	}
	if c.Inactivity.WarnAfter <= 0 || c.Inactivity.CloseAfter <= 0 {
		return fmt.Errorf("inactivity durations must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 1
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout bounds a single store call.
func (s StoreConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// TokenTTL returns the admin token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
