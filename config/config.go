// Package config loads Ring Hub's structured configuration from the
// environment.
package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type CoreConfig struct {
	Env        string `env:"ENV, default=development"`
	Port       int    `env:"PORT, default=3000"`
	Host       string `env:"HOST, default=0.0.0.0"`
	HubURL     string `env:"HUB_URL, default=http://localhost:3000"`
	ListenAddr string `env:"-"`
}

type CorsConfig struct {
	Origins []string `env:"ORIGINS, default=*, delimiter=,"`
}

type DatabaseConfig struct {
	URL string `env:"URL, default=ringhub.db"`
}

type RedisConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT, default=6379"`
	Password string `env:"PASSWORD"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type SecurityConfig struct {
	PrivateKeyPath            string `env:"PRIVATE_KEY_PATH"`
	PrivateKeyBase64          string `env:"PRIVATE_KEY"`
	VaultSecretPath           string `env:"VAULT_SECRET_PATH"`
	AllowAdminSignatureBypass bool   `env:"ALLOW_ADMIN_SIGNATURE_BYPASS, default=false"`
}

type RingsConfig struct {
	RootSlug string `env:"ROOT_SLUG, default=spool"`
	RootName string `env:"ROOT_NAME, default=Spool"`
}

type RateLimitConfig struct {
	QuotaFile string `env:"QUOTA_FILE"`
}

type SchedulerConfig struct {
	Enabled bool `env:"ENABLED, default=true"`
}

type PLCConfig struct {
	URL string `env:"URL, default=https://plc.directory"`
}

type Config struct {
	Core      CoreConfig      `env:",prefix=RINGHUB_"`
	Cors      CorsConfig      `env:",prefix=RINGHUB_CORS_"`
	Database  DatabaseConfig  `env:",prefix=RINGHUB_DATABASE_"`
	Redis     RedisConfig     `env:",prefix=RINGHUB_REDIS_"`
	Security  SecurityConfig  `env:",prefix=RINGHUB_SECURITY_"`
	Rings     RingsConfig     `env:",prefix=RINGHUB_RINGS_"`
	RateLimit RateLimitConfig `env:",prefix=RINGHUB_RATE_LIMIT_"`
	Scheduler SchedulerConfig `env:",prefix=RINGHUB_SCHEDULER_"`
	Plc       PLCConfig       `env:",prefix=RINGHUB_PLC_"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}

	cfg.Core.ListenAddr = fmt.Sprintf("%s:%d", cfg.Core.Host, cfg.Core.Port)

	if cfg.Core.Port < 1 || cfg.Core.Port > 65535 {
		return nil, fmt.Errorf("config: port out of range: %d", cfg.Core.Port)
	}

	switch cfg.Core.Env {
	case "development", "test", "production":
	default:
		return nil, fmt.Errorf("config: unrecognized env %q", cfg.Core.Env)
	}

	return &cfg, nil
}
