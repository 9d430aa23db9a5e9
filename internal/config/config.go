package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"skkn-server/internal/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Supported upstream providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds the service configuration.
type Config struct {
	Env  string `envconfig:"ENV" default:"development"`
	Port string `envconfig:"PORT" default:"8080"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	// Per-message log sampling; 0 keeps every entry
	LogSampleInitial    int `envconfig:"LOG_SAMPLE_INITIAL" default:"0"`
	LogSampleThereafter int `envconfig:"LOG_SAMPLE_THEREAFTER" default:"100"`

	// Upstream generation service
	AIProvider       string        `envconfig:"AI_PROVIDER" default:"gemini"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL"`
	AIModels         []string      `envconfig:"AI_MODELS" default:"gemini-2.5-flash,gemini-2.5-pro,gemini-2.0-flash"`
	AIPreferredModel string        `envconfig:"AI_PREFERRED_MODEL"`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"10m"`
	AITemperature    float32       `envconfig:"AI_TEMPERATURE" default:"0.7"`
	AITopK           float32       `envconfig:"AI_TOP_K" default:"64"`
	AITopP           float32       `envconfig:"AI_TOP_P" default:"0.95"`
	AIMaxOutput      int32         `envconfig:"AI_MAX_OUTPUT_TOKENS" default:"65536"`
	AIThinkingBudget int32         `envconfig:"AI_THINKING_BUDGET" default:"2048"`
	AIGoogleSearch   bool          `envconfig:"AI_GOOGLE_SEARCH" default:"true"`

	// Credential pool
	PoolMaxKeys   int           `envconfig:"POOL_MAX_KEYS" default:"10"`
	PoolMaxErrors int           `envconfig:"POOL_MAX_ERRORS" default:"3"`
	PoolCooldown  time.Duration `envconfig:"POOL_COOLDOWN" default:"60s"`

	// Redis key-value store; in-memory store when empty
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RedisDB     int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"skkn:"`

	// PostgreSQL request ledger; disabled when DB_HOST is empty
	DBHost        string        `envconfig:"DB_HOST"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"skkn_db"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int32         `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_TIME" default:"5m"`

	// RabbitMQ stage events; disabled when empty
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`
	EventsQueue string `envconfig:"STAGE_EVENTS_QUEUE" default:"skkn_stage_events"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Optional YAML file overriding the embedded stage list
	StagesFile string `envconfig:"STAGES_FILE"`

	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	MaxActiveTasks int           `envconfig:"MAX_ACTIVE_TASKS" default:"20"`

	// Secrets, no envconfig tags
	APIKeys       []string `ignored:"true"`
	DBPassword    string   `ignored:"true"`
	RedisPassword string   `ignored:"true"`
}

// Load reads .env (if present), environment variables and secret files.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	keys, err := utils.ReadOptionalSecret("skkn_api_keys", os.Getenv("SKKN_API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = utils.SplitList(strings.ReplaceAll(keys, "\n", ","))

	if cfg.DBPassword, err = utils.ReadOptionalSecret("db_password", os.Getenv("DB_PASSWORD")); err != nil {
		return nil, err
	}
	if cfg.RedisPassword, err = utils.ReadOptionalSecret("redis_password", os.Getenv("REDIS_PASSWORD")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.AIProvider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider)
	}
	if len(c.AIModels) == 0 {
		return errors.New("AI_MODELS must list at least one model")
	}
	if c.PoolMaxKeys <= 0 || c.PoolMaxErrors <= 0 || c.PoolCooldown <= 0 {
		return errors.New("pool limits must be positive")
	}
	return nil
}

// DatabaseEnabled reports whether the Postgres ledger is configured.
func (c *Config) DatabaseEnabled() bool { return c.DBHost != "" }

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaskedDSN returns the DSN with the password hidden.
func (c *Config) MaskedDSN() string {
	dsn := c.GetDSN()
	parts := strings.Split(dsn, "@")
	if len(parts) != 2 {
		return "[invalid dsn format]"
	}
	userInfo := strings.Split(parts[0], ":")
	if len(userInfo) >= 2 {
		userInfo[len(userInfo)-1] = "********"
	}
	return strings.Join(userInfo, ":") + "@" + parts[1]
}

// LogFields summarizes the configuration without secrets.
func (c *Config) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("env", c.Env),
		zap.String("port", c.Port),
		zap.String("aiProvider", c.AIProvider),
		zap.Strings("aiModels", c.AIModels),
		zap.Duration("aiTimeout", c.AITimeout),
		zap.Int("initialKeys", len(c.APIKeys)),
		zap.Bool("redis", c.RedisAddr != ""),
		zap.Bool("rabbitmq", c.RabbitMQURL != ""),
	}
	if c.DatabaseEnabled() {
		fields = append(fields, zap.String("dbDSN", c.MaskedDSN()))
	}
	if c.StagesFile != "" {
		fields = append(fields, zap.String("stagesFile", c.StagesFile))
	}
	return fields
}
