package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/push"
	pkgconfig "github.com/sparcs-kaist/ara-chat-sync/pkg/config"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

type Config struct {
	API  api.Config
	Push push.Config
	Chat ChatConfig
	Self SelfConfig
	Log  log.Config
}

type ChatConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type SelfConfig struct {
	UserID   int64  `mapstructure:"user_id"`
	Nickname string `mapstructure:"nickname"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:9000")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("push.endpoint", "ws://localhost:9001/ws")
	v.SetDefault("push.ping_interval", "30s")
	v.SetDefault("push.pong_wait", "60s")
	v.SetDefault("push.write_wait", "10s")
	v.SetDefault("push.max_message_size", 4096)
	v.SetDefault("chat.page_size", 30)
	v.SetDefault("chat.reconnect_interval", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "ara-chat-sync")

	// Override from environment
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("api.token", "API_TOKEN")
	v.BindEnv("push.endpoint", "PUSH_ENDPOINT")
	v.BindEnv("self.user_id", "SELF_USER_ID")
	v.BindEnv("self.nickname", "SELF_NICKNAME")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.API.Timeout = parseDuration(v, "api.timeout", 30*time.Second)
	cfg.Push.PingInterval = parseDuration(v, "push.ping_interval", 30*time.Second)
	cfg.Push.PongWait = parseDuration(v, "push.pong_wait", 60*time.Second)
	cfg.Push.WriteWait = parseDuration(v, "push.write_wait", 10*time.Second)
	cfg.Chat.ReconnectInterval = parseDuration(v, "chat.reconnect_interval", 5*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
