package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	SocketPath   string `yaml:"socket_path"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds, binary phases only
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// Load builds the configuration from defaults, an optional YAML file and
// CHAT_* environment overrides, in that order.
func Load(path string) *Config {
	cfg := &Config{
		Port:         8888,
		DataDir:      "data",
		SocketPath:   "/tmp/confab.sock",
		ReadTimeout:  120,
		WriteTimeout: 30,
	}

	if path == "" {
		path = os.Getenv("CHAT_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		yaml.Unmarshal(data, cfg)
	}

	if portStr := os.Getenv("CHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dir := os.Getenv("CHAT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if sock := os.Getenv("CHAT_SOCKET"); sock != "" {
		cfg.SocketPath = sock
	}

	if timeoutStr := os.Getenv("CHAT_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("CHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}
