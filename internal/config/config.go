package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Classifier  ClassifierConfig          `json:"classifier"`
	Mail        MailConfig                `json:"mail"`
	Auth        AuthConfig                `json:"auth"`
	Webhooks    WebhookConfig             `json:"webhooks"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// PublicBaseURL is the address of the web UI, used for links in alert emails.
	PublicBaseURL string `json:"public_base_url"`
	FileBaseDir   string `json:"file_base_dir"`
	FilePublicURL string `json:"file_public_url"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	// EnforceStatusValues restricts status updates to the known status names.
	// Transitions are never validated.
	EnforceStatusValues bool `json:"enforce_status_values"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// ClassifierConfig selects how cases are classified.
// Mode "remote" posts to the inference service at BaseURL, mode "model" prompts
// the chat model of Provider (an entry of Providers).
type ClassifierConfig struct {
	Mode           string `json:"mode"`
	BaseURL        string `json:"base_url"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	// InsecureSkipVerify disables certificate checks on STARTTLS.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`
}

type AuthConfig struct {
	Enabled       bool `json:"enabled"`
	TokenTTLHours int  `json:"token_ttl_hours"`
}

type WebhookConfig struct {
	IdentitySecret string `json:"identity_secret"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	// sqlite files live next to the config unless an absolute path is given
	for name, db := range cfg.Databases {
		if !isSQLite(name) || db.DSN == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.PublicBaseURL == "" {
		c.BasicConfig.PublicBaseURL = "http://localhost:3000"
	}
	if c.BasicConfig.FileBaseDir == "" {
		c.BasicConfig.FileBaseDir = "./data/uploads"
	}
	if c.BasicConfig.FilePublicURL == "" {
		c.BasicConfig.FilePublicURL = "http://localhost" + c.BasicConfig.ServerAddress + "/files"
	}
	if c.Classifier.Mode == "" {
		c.Classifier.Mode = "remote"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.From == "" {
		c.Mail.From = "notifications@snapaid.com"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
