package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"manutenzioni/internal/domain"
)

const fileName = "manutenzioni.yml"

// Config models manutenzioni.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Checklist ChecklistConfig `yaml:"checklist"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

type ServerConfig struct {
	Addr                  string          `yaml:"addr"`
	BasePath              string          `yaml:"base_path"`
	RequestTimeoutSeconds int             `yaml:"request_timeout_seconds"`
	JWTSecret             string          `yaml:"jwt_secret"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ChecklistConfig struct {
	// Answers is the default answer catalog for items without their own options.
	Answers []domain.AnswerOption  `yaml:"answers"`
	Items   []domain.ChecklistItem `yaml:"items"`
}

type AlertsConfig struct {
	QueueSize   int             `yaml:"queue_size"`
	MaxAttempts int             `yaml:"max_attempts"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	Log         bool            `yaml:"log"`
	Webhooks    []WebhookConfig `yaml:"webhooks"`
	Kafka       KafkaConfig     `yaml:"kafka"`
}

type BreakerConfig struct {
	MaxFailures    uint32 `yaml:"max_failures"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RequestTimeout returns the per-request deadline.
func (s ServerConfig) RequestTimeout() time.Duration {
	if s.RequestTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with manutenzioni config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be >= 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q is not one of json, console", c.Log.Format)
	}
	if err := validateAnswers("checklist.answers", c.Checklist.Answers); err != nil {
		return err
	}
	ids := map[string]struct{}{}
	codes := map[string]struct{}{}
	for i, item := range c.Checklist.Items {
		if item.ID == "" {
			return fmt.Errorf("checklist.items[%d].id is required", i)
		}
		if item.AssetType == "" {
			return fmt.Errorf("checklist item %s has empty asset_type", item.ID)
		}
		if item.Name == "" {
			return fmt.Errorf("checklist item %s has empty name", item.ID)
		}
		if _, dup := ids[item.ID]; dup {
			return fmt.Errorf("checklist item id %s is duplicated", item.ID)
		}
		ids[item.ID] = struct{}{}
		if item.Code != "" {
			key := item.AssetType + "/" + item.Code
			if _, dup := codes[key]; dup {
				return fmt.Errorf("checklist code %s is duplicated for asset type %s", item.Code, item.AssetType)
			}
			codes[key] = struct{}{}
		}
		if err := validateAnswers("checklist item "+item.ID+" answers", item.Answers); err != nil {
			return err
		}
	}
	if c.Alerts.QueueSize < 0 || c.Alerts.MaxAttempts < 0 {
		return fmt.Errorf("alerts.queue_size and alerts.max_attempts must be >= 0")
	}
	for i, hook := range c.Alerts.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("alerts.webhooks[%d].url is required", i)
		}
	}
	if len(c.Alerts.Kafka.Brokers) > 0 && c.Alerts.Kafka.Topic == "" {
		return fmt.Errorf("alerts.kafka.topic is required when brokers are set")
	}
	return nil
}

func validateAnswers(where string, answers []domain.AnswerOption) error {
	seen := map[string]struct{}{}
	for _, a := range answers {
		v := strings.ToLower(strings.TrimSpace(a.Value))
		if v == "" {
			return fmt.Errorf("%s contains an empty value", where)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%s lists %q twice", where, a.Value)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  request_timeout_seconds: 15
  rate_limit:
    requests_per_second: 50
    burst: 100

log:
  level: info
  format: json

checklist:
  answers:
    - value: Conforme
    - value: Non Conforme
      alert: true
    - value: Non Eseguito
      done: false

  items:
    - id: caldaia-pulizia-bruciatore
      asset_type: caldaia
      code: CAL-01
      name: Pulizia bruciatore
      required: true
    - id: caldaia-analisi-fumi
      asset_type: caldaia
      code: CAL-02
      name: Analisi fumi di combustione
      required: true
    - id: caldaia-verifica-pressione
      asset_type: caldaia
      code: CAL-03
      name: Verifica pressione impianto
    - id: ascensore-funi
      asset_type: ascensore
      code: ASC-01
      name: Controllo funi e pulegge
      required: true
    - id: ascensore-allarme
      asset_type: ascensore
      code: ASC-02
      name: Prova allarme cabina
      answers:
        - value: Funzionante
        - value: Guasto
          alert: true
    - id: estintore-pressione
      asset_type: estintore
      code: EST-01
      name: Verifica manometro
      required: true

alerts:
  queue_size: 256
  max_attempts: 3
  log: true
  breaker:
    max_failures: 5
    timeout_seconds: 30
`
