package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Runtime is the environment configuration used by cl serve.
type Runtime struct {
	JWTSecret       string        `env:"COACHLINE_JWT_SECRET"`
	AdminAPIKey     string        `env:"COACHLINE_ADMIN_API_KEY"`
	RedisURL        string        `env:"COACHLINE_REDIS_URL"`
	InviteRateLimit int           `env:"COACHLINE_INVITE_RATE_LIMIT" envDefault:"60"`
	InviteRateWin   time.Duration `env:"COACHLINE_INVITE_RATE_WINDOW" envDefault:"1m"`
}

// LoadRuntime parses Runtime from the process environment.
func LoadRuntime() (Runtime, error) {
	var cfg Runtime
	if err := env.Parse(&cfg); err != nil {
		return Runtime{}, fmt.Errorf("parse runtime env: %w", err)
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (r Runtime) Validate() error {
	if r.JWTSecret == "" {
		return errors.New("COACHLINE_JWT_SECRET is required")
	}
	if r.InviteRateLimit < 0 {
		return errors.New("COACHLINE_INVITE_RATE_LIMIT must be >= 0")
	}
	if r.InviteRateLimit > 0 && r.InviteRateWin <= 0 {
		return errors.New("COACHLINE_INVITE_RATE_WINDOW must be positive")
	}
	return nil
}
