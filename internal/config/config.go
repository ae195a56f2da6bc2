package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultBaseURL = "https://helpdeskpro-server.onrender.com/api"

type Config struct {
	BaseURL              string
	DBPath               string
	RefreshInterval      time.Duration
	LogLevel             string
	OTLPEndpoint         string
	OTLPInsecure         bool
	SyncDownWindow       time.Duration
	SyncDownFailures     int
	SyncRecoverSuccesses int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:              DefaultBaseURL,
		DBPath:               defaultDBPath(),
		RefreshInterval:      5 * time.Second,
		LogLevel:             "warn",
		SyncDownWindow:       30 * time.Second,
		SyncDownFailures:     3,
		SyncRecoverSuccesses: 2,
	}
}

// fileConfig mirrors config.toml. Zero values leave the default in place.
type fileConfig struct {
	BaseURL          string `toml:"base_url"`
	DBPath           string `toml:"db_path"`
	RefreshSeconds   int    `toml:"refresh_seconds"`
	LogLevel         string `toml:"log_level"`
	OTLPEndpoint     string `toml:"otlp_endpoint"`
	OTLPInsecure     bool   `toml:"otlp_insecure"`
	DownFailures     int    `toml:"sync_down_failures"`
	RecoverSuccesses int    `toml:"sync_recover_successes"`
}

// Load applies, in order, the defaults, the TOML file at path and the
// environment. An empty path means DefaultFilePath; a missing default file
// is not an error, a missing explicit file is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultFilePath()
	}
	if path != "" {
		if err := LoadTOML(&cfg, path); err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
			if err != nil {
				return cfg, err
			}
		}
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

func LoadTOML(cfg *Config, path string) error {
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	if v := strings.TrimSpace(file.BaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(file.DBPath); v != "" {
		cfg.DBPath = expandHome(v)
	}
	if file.RefreshSeconds > 0 {
		cfg.RefreshInterval = time.Duration(file.RefreshSeconds) * time.Second
	}
	if v := strings.TrimSpace(file.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(file.OTLPEndpoint); v != "" {
		cfg.OTLPEndpoint = v
	}
	if file.OTLPInsecure {
		cfg.OTLPInsecure = true
	}
	if file.DownFailures > 0 {
		cfg.SyncDownFailures = file.DownFailures
	}
	if file.RecoverSuccesses > 0 {
		cfg.SyncRecoverSuccesses = file.RecoverSuccesses
	}
	return nil
}

func ApplyEnv(cfg *Config) {
	cfg.BaseURL = readString("HELPDESK_BASE_URL", cfg.BaseURL)
	cfg.DBPath = expandHome(readString("HELPDESK_DB", cfg.DBPath))
	cfg.RefreshInterval = readDurationSeconds("HELPDESK_REFRESH_SECONDS", cfg.RefreshInterval)
	cfg.LogLevel = readString("HELPDESK_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = readString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OTLPInsecure = readBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure)
}

func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "helpdesk", "config.toml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "helpdesk.db"
	}
	return filepath.Join(home, ".local", "state", "helpdesk", "session.db")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	value := readInt(key, 0)
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
