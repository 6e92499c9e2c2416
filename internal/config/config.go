package config

import "time"

// Config holds configuration for the relay server and the jam client.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// Client-side settings.
	ServerURL    string   `mapstructure:"server_url" yaml:"server_url"`
	AutosavePath string   `mapstructure:"autosave_path" yaml:"autosave_path"`
	STUNServers  []string `mapstructure:"stun_servers" yaml:"stun_servers"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		ServerURL:         "ws://localhost:8080/ws",
		AutosavePath:      "loopjam.db",
		STUNServers:       []string{"stun:stun.l.google.com:19302"},
	}
}
