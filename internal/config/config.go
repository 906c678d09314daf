package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Host             string        `mapstructure:"host"`
	DBDSN            string        `mapstructure:"db_dsn"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	Redis  RedisConfig  `mapstructure:"redis"`
	Client ClientConfig `mapstructure:"client"`
}

type RedisConfig struct {
	Enable  bool   `mapstructure:"enable"`
	Addr    string `mapstructure:"addr"`
	Node    string `mapstructure:"node"`
	Channel string `mapstructure:"channel"`
}

type ClientConfig struct {
	ReadBufferSize  int   `mapstructure:"read_buffer_size"`
	WriteBufferSize int   `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size"`
	SendBuffer      int   `mapstructure:"send_buffer"`
}

// Load reads config.yaml from the working directory, with every key
// overridable through the environment (e.g. REDIS_ADDR, DB_DSN).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath("./")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("host", ":8080")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "member-chat-broadcast")
	v.SetDefault("client.read_buffer_size", 1024)
	v.SetDefault("client.write_buffer_size", 1024)
	v.SetDefault("client.max_message_size", 4096)
	v.SetDefault("client.send_buffer", 256)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
