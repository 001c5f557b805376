package config

import "time"

// Client definition chat_client YAML structure
type Client struct {
	Server    ServerConfig    `mapstructure:"server"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Timers    TimerConfig     `mapstructure:"timers"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig chat server websocket endpoint
type ServerConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ReconnectConfig bounded reconnect policy
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	StableAfter time.Duration `mapstructure:"stable_after"`
}

// TimerConfig auto-read and typing idle delays
type TimerConfig struct {
	AutoReadDelay time.Duration `mapstructure:"auto_read_delay"`
	TypingIdle    time.Duration `mapstructure:"typing_idle"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryInterval int    `mapstructure:"retry_interval"`
}

// MetricsConfig prometheus endpoint, empty Addr disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig log output setting
type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Debug bool   `mapstructure:"debug"`
}

// defaults 預設值, 與 YAML key 對應
var defaults = map[string]interface{}{
	"server.url":             "ws://localhost:8080/ws",
	"server.dial_timeout":    10 * time.Second,
	"server.write_timeout":   5 * time.Second,
	"reconnect.max_attempts": 5,
	"reconnect.base_delay":   time.Second,
	"reconnect.max_delay":    5 * time.Second,
	"reconnect.stable_after": 10 * time.Second,
	"timers.auto_read_delay": 2 * time.Second,
	"timers.typing_idle":     2 * time.Second,
	"redis.addr":             "localhost:6379",
	"redis.channel_prefix":   "chat:view:",
	"redis.retry_count":      3,
	"redis.retry_interval":   1,
}

// DefaultClient config without any YAML file
func DefaultClient() Client {
	return Client{
		Server: ServerConfig{
			URL:          defaults["server.url"].(string),
			DialTimeout:  defaults["server.dial_timeout"].(time.Duration),
			WriteTimeout: defaults["server.write_timeout"].(time.Duration),
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: defaults["reconnect.max_attempts"].(int),
			BaseDelay:   defaults["reconnect.base_delay"].(time.Duration),
			MaxDelay:    defaults["reconnect.max_delay"].(time.Duration),
			StableAfter: defaults["reconnect.stable_after"].(time.Duration),
		},
		Timers: TimerConfig{
			AutoReadDelay: defaults["timers.auto_read_delay"].(time.Duration),
			TypingIdle:    defaults["timers.typing_idle"].(time.Duration),
		},
		Redis: RedisConfig{
			Addr:          defaults["redis.addr"].(string),
			ChannelPrefix: defaults["redis.channel_prefix"].(string),
			RetryCount:    defaults["redis.retry_count"].(int),
			RetryInterval: defaults["redis.retry_interval"].(int),
		},
	}
}
