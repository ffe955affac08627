package domheal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domheal/internal/heal"
	"github.com/hazyhaar/domheal/internal/resolve"
)

// Config holds the engine configuration.
type Config struct {
	// DBPath is the SQLite file backing correction memory and step
	// metrics. Empty disables persistence: the engine runs in a
	// degraded non-learning mode.
	DBPath string `json:"db_path" yaml:"db_path"`

	// MaxCorrections bounds the correction store. Default: 200.
	MaxCorrections int `json:"max_corrections" yaml:"max_corrections"`

	// Weights tune strategy scoring. Zero value means stock weights.
	Weights resolve.Weights `json:"weights" yaml:"weights"`

	// Heal tunes the recovery cascade thresholds.
	Heal heal.Config `json:"heal" yaml:"heal"`

	// AI configures the external semantic/visual matching service.
	// An empty endpoint skips the AI tiers entirely.
	AI AIConfig `json:"ai" yaml:"ai"`

	// VerifyInterval is the success-condition polling interval.
	// Default: 200ms.
	VerifyInterval time.Duration `json:"verify_interval" yaml:"verify_interval"`

	// MetricsBuffer is the in-flight step metrics buffer size before
	// records are dropped. Default: 256.
	MetricsBuffer int `json:"metrics_buffer" yaml:"metrics_buffer"`

	// MetricsFlush is how often buffered metrics are written out.
	// Default: 5s.
	MetricsFlush time.Duration `json:"metrics_flush" yaml:"metrics_flush"`
}

// AIConfig configures the matching service client.
type AIConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`

	// FailureThreshold consecutive failures open the circuit breaker;
	// after ResetAfter one probe call is admitted. Zero values use the
	// client defaults.
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	ResetAfter       time.Duration `json:"reset_after" yaml:"reset_after"`
}

func (c *Config) defaults() {
	if c.MaxCorrections == 0 {
		c.MaxCorrections = 200
	}
	if c.Weights.Priority == nil {
		c.Weights = resolve.DefaultWeights()
	}
	if c.Heal.TierTimeout == 0 {
		c.Heal = heal.DefaultConfig()
	}
	if c.VerifyInterval == 0 {
		c.VerifyInterval = 200 * time.Millisecond
	}
	if c.MetricsBuffer == 0 {
		c.MetricsBuffer = 256
	}
	if c.MetricsFlush == 0 {
		c.MetricsFlush = 5 * time.Second
	}
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("domheal: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("domheal: parse config: %w", err)
	}
	return &cfg, nil
}
