package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	Transport string        `mapstructure:"transport"`
	StunURL   string        `mapstructure:"stun_url"`
	AudioPath string        `mapstructure:"audio_path"`
	PingEvery time.Duration `mapstructure:"ping_every"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	// Addr empty selects the in-memory store (single-process mode).
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("transport", "p2p")
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("audio_path", "./assets/mic.ogg")
	v.SetDefault("ping_every", "54s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("transport", cfg.Transport).Msg("config ready")
	return &cfg, nil
}
