package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
}

type ServerConfig struct {
	Address         string
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	// MaxPerIP caps concurrent connections per client address. Zero disables
	// the limiter.
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}
