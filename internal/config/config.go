package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Keys holds the purpose-specific token signing secrets. Each token category
// is signed with its own key so a token can never verify under another
// category.
type Keys struct {
	Code    []byte
	Access  []byte
	Refresh []byte
	Reset   []byte
}

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	ServiceName          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	Keys                 Keys
	CodeTokenTTL         time.Duration
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ResetTokenTTL        time.Duration
	Clients              []string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	SMTPFrom             string
	RateLimitRPM         int
	RateLimitBurst       int
	ShutdownTimeout      time.Duration
	JanitorInterval      time.Duration
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	keys, err := loadKeys()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		ServiceName:          getEnv("SERVICE_NAME", "inkwell-auth"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		Keys:                 keys,
		CodeTokenTTL:         getDuration("CODE_TOKEN_TTL", 2*time.Minute),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", 3*time.Minute),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 10*time.Hour),
		ResetTokenTTL:        getDuration("RESET_TOKEN_TTL", 5*time.Minute),
		Clients:              getList("AUTH_CLIENTS", []string{"Application"}),
		SMTPHost:             os.Getenv("SMTP_HOST"),
		SMTPPort:             getInt("SMTP_PORT", 587),
		SMTPUsername:         os.Getenv("SMTP_USERNAME"),
		SMTPPassword:         os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:             os.Getenv("SMTP_FROM"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		RateLimitBurst:       getInt("RATE_LIMIT_BURST", 0),
		ShutdownTimeout:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		JanitorInterval:      getDuration("JANITOR_INTERVAL", 15*time.Minute),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func loadKeys() (Keys, error) {
	read := func(name string) ([]byte, error) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
		return []byte(v), nil
	}

	var (
		keys Keys
		err  error
	)
	if keys.Code, err = read("CODE_TOKEN_SECRET"); err != nil {
		return Keys{}, err
	}
	if keys.Access, err = read("ACCESS_TOKEN_SECRET"); err != nil {
		return Keys{}, err
	}
	if keys.Refresh, err = read("REFRESH_TOKEN_SECRET"); err != nil {
		return Keys{}, err
	}
	if keys.Reset, err = read("RESET_TOKEN_SECRET"); err != nil {
		return Keys{}, err
	}

	seen := map[string]string{}
	for name, key := range map[string][]byte{
		"CODE_TOKEN_SECRET":    keys.Code,
		"ACCESS_TOKEN_SECRET":  keys.Access,
		"REFRESH_TOKEN_SECRET": keys.Refresh,
		"RESET_TOKEN_SECRET":   keys.Reset,
	} {
		if other, ok := seen[string(key)]; ok {
			return Keys{}, fmt.Errorf("%s and %s must not share a value", other, name)
		}
		seen[string(key)] = name
	}

	return keys, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
