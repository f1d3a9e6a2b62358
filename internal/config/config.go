package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the messaging configuration (forum policy switches live in the database).
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Mail  MailConfig  `yaml:"mail"`
	PM    PMConfig    `yaml:"pm"`
}

// PathsConfig holds filesystem paths for data.
type PathsConfig struct {
	Data     string `yaml:"data"`
	Database string `yaml:"database"`
	Scripts  string `yaml:"scripts"`
}

// MailConfig holds notification delivery settings.
type MailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	From            string `yaml:"from"`
	SiteName        string `yaml:"site_name"`
	SiteURL         string `yaml:"site_url"`
	DefaultLanguage string `yaml:"default_language"`
}

// Addr returns host:port for the SMTP relay.
func (m MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// PMConfig holds personal message limits and cache lifetimes.
type PMConfig struct {
	LabelCacheTTL  Seconds `yaml:"label_cache_ttl"`
	LimitCacheTTL  Seconds `yaml:"limit_cache_ttl"`
	MaxLabelSetLen int     `yaml:"max_label_set_len"`
	MaxSubjectLen  int     `yaml:"max_subject_len"`
	MaxBodyLen     int     `yaml:"max_body_len"`
	SearchPerPage  int     `yaml:"search_per_page"`
}

// Seconds is a duration written as a plain number of seconds in YAML.
type Seconds int

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Data:     "./data",
			Database: "./data/twilight_pm.db",
			Scripts:  "./assets/scripts",
		},
		Mail: MailConfig{
			Port:            25,
			SiteName:        "Twilight",
			SiteURL:         "http://localhost",
			DefaultLanguage: "en",
		},
		PM: PMConfig{
			LabelCacheTTL:  720,
			LimitCacheTTL:  360,
			MaxLabelSetLen: 60,
			MaxSubjectLen:  100,
			MaxBodyLen:     65534,
			SearchPerPage:  30,
		},
	}
}

// Load reads and parses a YAML config file, then applies overrides from a
// .env file next to it (if present) and from the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Paths.Database = getEnvString("TWILIGHT_DATABASE", c.Paths.Database)
	c.Mail.Enabled = getEnvBool("TWILIGHT_SMTP_ENABLED", c.Mail.Enabled)
	c.Mail.Host = getEnvString("TWILIGHT_SMTP_HOST", c.Mail.Host)
	c.Mail.Port = getEnvInt("TWILIGHT_SMTP_PORT", c.Mail.Port)
	c.Mail.Username = getEnvString("TWILIGHT_SMTP_USERNAME", c.Mail.Username)
	c.Mail.Password = getEnvString("TWILIGHT_SMTP_PASSWORD", c.Mail.Password)
}

// Validate rejects limits and mail settings that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.PM.LabelCacheTTL <= 0:
		return fmt.Errorf("pm.label_cache_ttl must be positive")
	case c.PM.LimitCacheTTL <= 0:
		return fmt.Errorf("pm.limit_cache_ttl must be positive")
	case c.PM.MaxLabelSetLen <= 0:
		return fmt.Errorf("pm.max_label_set_len must be positive")
	case c.PM.MaxSubjectLen <= 0:
		return fmt.Errorf("pm.max_subject_len must be positive")
	case c.PM.MaxBodyLen <= 0:
		return fmt.Errorf("pm.max_body_len must be positive")
	case c.PM.SearchPerPage <= 0:
		return fmt.Errorf("pm.search_per_page must be positive")
	}
	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
		return fmt.Errorf("mail.host and mail.from are required when mail is enabled")
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
