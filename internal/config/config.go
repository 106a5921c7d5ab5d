package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	RelayURL    string `mapstructure:"relay_url"`
	HubURL      string `mapstructure:"hub_url"`
	Token       string `mapstructure:"token"`
	SessionID   string `mapstructure:"session_id"`
	DisplayName string `mapstructure:"display_name"`
	Role        string `mapstructure:"role"`

	StunServers []string `mapstructure:"stun_servers"`

	ChunkSize int           `mapstructure:"chunk_size"`
	PaceEvery int           `mapstructure:"pace_every"`
	PaceDelay time.Duration `mapstructure:"pace_delay"`

	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`

	FPS             int           `mapstructure:"fps"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	Watermark       string        `mapstructure:"watermark"`
	OutputDir       string        `mapstructure:"output_dir"`

	APIAddr    string `mapstructure:"api_addr"`
	StaticPath string `mapstructure:"static_path"`
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
	v.SetDefault("relay_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("hub_url", "http://localhost:8080/api")
	v.SetDefault("role", "attendee")
	v.SetDefault("display_name", "guest")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("chunk_size", 16*1024)
	v.SetDefault("pace_every", 8)
	v.SetDefault("pace_delay", "50ms")
	v.SetDefault("confirm_timeout", "5s")
	v.SetDefault("fps", 15)
	v.SetDefault("segment_duration", "10s")
	v.SetDefault("watermark", "stagecast")
	v.SetDefault("output_dir", "./recordings")
	v.SetDefault("api_addr", "127.0.0.1:7880")
	v.SetDefault("static_path", "./web")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
