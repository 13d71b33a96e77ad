package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the CLI-side configuration. Precedence, lowest to highest:
// config file, A1CTF_* environment (with .env overlay), -S flags.
type Config struct {
	Transport string
	Role      string
	Settings  map[string]string
}

// settingKeys are transport settings that may also come from the
// environment (A1CTF_TOKEN, A1CTF_BASE_URL, ...).
var settingKeys = []string{"base_url", "token", "cookie", "command"}

func loadConfig(path string) (*Config, error) {
	// A .env next to the binary overlays the process environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("role", "user")
	v.SetEnvPrefix("A1CTF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Scalars go through GetString so the env overlay applies; Unmarshal
	// would only see file values.
	cfg := Config{
		Transport: v.GetString("transport"),
		Role:      v.GetString("role"),
		Settings:  v.GetStringMapString("settings"),
	}
	if cfg.Settings == nil {
		cfg.Settings = make(map[string]string)
	}
	for _, key := range settingKeys {
		if val := v.GetString(key); val != "" && cfg.Settings[key] == "" {
			cfg.Settings[key] = val
		}
	}
	return &cfg, nil
}

