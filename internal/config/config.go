package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/grimoire/internal/engine"
	"github.com/p-blackswan/grimoire/internal/oracle"
	"github.com/p-blackswan/grimoire/internal/store"
)

// API auth modes.
const (
	AuthModeNone   = "none"
	AuthModeAPIKey = "api-key"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	UserName    string `envconfig:"USER_NAME" default:"Wizard"`

	// Durable store
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"sqlite"` // sqlite, memory, redis or postgres
	StorePath     string `envconfig:"STORE_PATH" default:"grimoire.db"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"grimoire:"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`

	// HTTP API
	APIListenAddr      string        `envconfig:"API_LISTEN_ADDR" default:"127.0.0.1:8787"`
	APIAuthMode        string        `envconfig:"API_AUTH_MODE" default:"none"`
	APIKey             string        `envconfig:"API_KEY"`
	APICORSOrigins     string        `envconfig:"API_CORS_ORIGINS"`
	APIRateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"50"`
	APIRateLimitBurst  int           `envconfig:"API_RATE_LIMIT_BURST" default:"100"`
	APIShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`

	// Oracle (generative text). The API key itself lives in the durable store.
	OracleProvider string        `envconfig:"ORACLE_PROVIDER" default:"gemini"`
	OracleModel    string        `envconfig:"ORACLE_MODEL"`
	OracleBaseURL  string        `envconfig:"ORACLE_BASE_URL"`
	OracleTimeout  time.Duration `envconfig:"ORACLE_TIMEOUT" default:"20s"`
	OracleRetries  int           `envconfig:"ORACLE_RETRIES" default:"2"`

	// Engine timing and gameplay
	DecreeCount      int           `envconfig:"DECREE_COUNT" default:"5"`
	DecreeReward     int           `envconfig:"DECREE_REWARD" default:"10"`
	DecayInterval    time.Duration `envconfig:"DECAY_INTERVAL" default:"10m"`
	DecayStep        int           `envconfig:"DECAY_STEP" default:"5"`
	SpawnMinDelay    time.Duration `envconfig:"SPAWN_MIN_DELAY" default:"30s"`
	SpawnMaxDelay    time.Duration `envconfig:"SPAWN_MAX_DELAY" default:"60s"`
	SpawnHideMin     time.Duration `envconfig:"SPAWN_HIDE_MIN" default:"10s"`
	SpawnHideMax     time.Duration `envconfig:"SPAWN_HIDE_MAX" default:"15s"`
	RivalThreshold   time.Duration `envconfig:"RIVAL_THRESHOLD" default:"4h"`
	RivalMin         int           `envconfig:"RIVAL_MIN" default:"1"`
	RivalMax         int           `envconfig:"RIVAL_MAX" default:"10"`
	ExamCooldown     time.Duration `envconfig:"EXAM_COOLDOWN" default:"1h"`
	ExamQuestions    int           `envconfig:"EXAM_QUESTIONS" default:"5"`
	ExamReward       int           `envconfig:"EXAM_REWARD" default:"10"`
	TournamentWindow time.Duration `envconfig:"TOURNAMENT_WINDOW" default:"24h"`
}

// IsDevelopment reports whether logs should go to the console writer.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate rejects inverted ranges, unknown backends and incomplete auth.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case store.BackendSQLite, store.BackendMemory, store.BackendRedis, store.BackendPostgres:
	default:
		return fmt.Errorf("STORE_BACKEND %q: expected sqlite, memory, redis or postgres", c.StoreBackend)
	}
	if strings.EqualFold(c.StoreBackend, store.BackendPostgres) && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
	}

	switch c.APIAuthMode {
	case AuthModeNone:
	case AuthModeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when API_AUTH_MODE=%s", AuthModeAPIKey)
		}
	default:
		return fmt.Errorf("API_AUTH_MODE %q: expected %s or %s", c.APIAuthMode, AuthModeNone, AuthModeAPIKey)
	}

	switch strings.ToLower(c.OracleProvider) {
	case oracle.ProviderGemini, oracle.ProviderAnthropic, oracle.ProviderNone:
	default:
		return fmt.Errorf("ORACLE_PROVIDER %q: expected gemini, anthropic or none", c.OracleProvider)
	}

	if c.SpawnMinDelay > c.SpawnMaxDelay {
		return fmt.Errorf("SPAWN_MIN_DELAY %s exceeds SPAWN_MAX_DELAY %s", c.SpawnMinDelay, c.SpawnMaxDelay)
	}
	if c.SpawnHideMin > c.SpawnHideMax {
		return fmt.Errorf("SPAWN_HIDE_MIN %s exceeds SPAWN_HIDE_MAX %s", c.SpawnHideMin, c.SpawnHideMax)
	}
	if c.RivalMin > c.RivalMax {
		return fmt.Errorf("RIVAL_MIN %d exceeds RIVAL_MAX %d", c.RivalMin, c.RivalMax)
	}
	if c.APIRateLimitRPS <= 0 || c.APIRateLimitBurst <= 0 {
		return fmt.Errorf("API rate limit must be positive")
	}
	return nil
}

// StoreOptions returns the durable store selection.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       strings.ToLower(c.StoreBackend),
		Path:          c.StorePath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPrefix:   c.RedisPrefix,
		PostgresDSN:   c.PostgresDSN,
	}
}

// OracleOptions returns the provider selection.
func (c *Config) OracleOptions() oracle.FactoryOptions {
	return oracle.FactoryOptions{
		Provider: strings.ToLower(c.OracleProvider),
		Model:    c.OracleModel,
		BaseURL:  c.OracleBaseURL,
	}
}

// CORSOriginList returns the parsed list of allowed origins, nil when unset.
func (c *Config) CORSOriginList() []string {
	if c.APICORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.APICORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// EngineConfig converts to the engine's parameters. Fields without an
// environment key keep the engine defaults.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.UserName = c.UserName
	cfg.DecreeCount = c.DecreeCount
	cfg.DecreeReward = c.DecreeReward
	cfg.DecayInterval = c.DecayInterval
	cfg.DecayStep = c.DecayStep
	cfg.SpawnMinDelay = c.SpawnMinDelay
	cfg.SpawnMaxDelay = c.SpawnMaxDelay
	cfg.SpawnHideMin = c.SpawnHideMin
	cfg.SpawnHideMax = c.SpawnHideMax
	cfg.RivalThreshold = c.RivalThreshold
	cfg.RivalMin = c.RivalMin
	cfg.RivalMax = c.RivalMax
	cfg.ExamCooldown = c.ExamCooldown
	cfg.ExamQuestions = c.ExamQuestions
	cfg.ExamReward = c.ExamReward
	cfg.TournamentWindow = c.TournamentWindow
	return cfg
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
