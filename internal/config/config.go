package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models planifica.yml.
type Config struct {
	Municipality struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"municipality"`
	Thresholds struct {
		// Coverage below Critical is critical; below Alert is alert;
		// at or above Alert is on track.
		Critical float64 `yaml:"critical"`
		Alert    float64 `yaml:"alert"`
	} `yaml:"thresholds"`
	Territories map[string][]string `yaml:"territories"`
	Dashboard   struct {
		TrendMonths int `yaml:"trend_months"`
	} `yaml:"dashboard"`
	Sync struct {
		Targets []SyncTarget `yaml:"targets"`
	} `yaml:"sync"`
}

// SyncTarget is one downstream consumer of the audit event feed.
type SyncTarget struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Municipality.ID == "" {
		return fmt.Errorf("config.municipality.id is required")
	}
	if c.Thresholds.Critical < 0 || c.Thresholds.Alert < 0 {
		return fmt.Errorf("config.thresholds must be non-negative")
	}
	if c.Thresholds.Critical > c.Thresholds.Alert {
		return fmt.Errorf("config.thresholds.critical (%v) must not exceed alert (%v)",
			c.Thresholds.Critical, c.Thresholds.Alert)
	}
	seen := map[string]string{}
	for territory, communities := range c.Territories {
		if territory == "" {
			return fmt.Errorf("config.territories contains empty territory name")
		}
		for _, community := range communities {
			if community == "" {
				return fmt.Errorf("territory %s contains empty community name", territory)
			}
			if prev, ok := seen[community]; ok && prev != territory {
				return fmt.Errorf("community %s assigned to both %s and %s", community, prev, territory)
			}
			seen[community] = territory
		}
	}
	if c.Dashboard.TrendMonths < 0 {
		return fmt.Errorf("config.dashboard.trend_months must be non-negative")
	}
	for i, target := range c.Sync.Targets {
		if target.URL == "" {
			return fmt.Errorf("sync target %d has empty url", i)
		}
	}
	return nil
}

// TerritoryFor returns the territory containing a community, or "".
func (c *Config) TerritoryFor(community string) string {
	for territory, communities := range c.Territories {
		for _, candidate := range communities {
			if candidate == community {
				return territory
			}
		}
	}
	return ""
}

// Communities returns all configured communities in a stable order.
func (c *Config) Communities() []string {
	var out []string
	for _, territory := range sortedKeys(c.Territories) {
		out = append(out, c.Territories[territory]...)
	}
	return out
}

// TrendMonths returns the configured dashboard trend window, defaulting to 6.
func (c *Config) TrendMonths() int {
	if c.Dashboard.TrendMonths > 0 {
		return c.Dashboard.TrendMonths
	}
	return 6
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planifica.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pf init or create it from the default template", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `municipality:
  id: huehue-norte
  name: "Mancomunidad Huehuetenango Norte"

thresholds:
  critical: 50
  alert: 75

territories:
  norte:
    - "San Pedro Necta"
    - "Todos Santos"
  sur:
    - "Santa Bárbara"
    - "La Democracia"

dashboard:
  trend_months: 6

sync:
  targets: []
`
