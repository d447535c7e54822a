package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Addr string

	DBDSN     string
	JWTSecret string

	// RedisAddr empty means fan-out stays inside this process.
	RedisAddr    string
	RedisChannel string

	LogLevel string
	LogDev   bool

	// TrustClientIdentity binds whatever userId/username the auth frame claims.
	// Development only.
	TrustClientIdentity bool

	AssistantAPIURL  string
	AssistantAPIKey  string
	AssistantModel   string
	AssistantTimeout time.Duration
}

// Load reads .env (if present), then the environment, then command-line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                getEnv("ADDR", ":8080"),
		DBDSN:               os.Getenv("DB_DSN"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisChannel:        getEnv("REDIS_CHANNEL", "ride-chat"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AssistantAPIURL:     getEnv("ASSISTANT_API_URL", "https://api.openai.com/v1/chat/completions"),
		AssistantAPIKey:     os.Getenv("ASSISTANT_API_KEY"),
		AssistantModel:      getEnv("ASSISTANT_MODEL", "gpt-4o-mini"),
		AssistantTimeout:    30 * time.Second,
		LogDev:              false,
		TrustClientIdentity: false,
	}

	var err error
	if cfg.LogDev, err = getBool("LOG_DEV", false); err != nil {
		return nil, err
	}
	if cfg.TrustClientIdentity, err = getBool("RELAY_TRUST_CLIENT_IDENTITY", false); err != nil {
		return nil, err
	}
	if v := os.Getenv("ASSISTANT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "ASSISTANT_TIMEOUT")
		}
		cfg.AssistantTimeout = d
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http service address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "%s", key)
	}
	return b, nil
}
