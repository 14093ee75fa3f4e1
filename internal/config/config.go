package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cogniledger/internal/signing"
)

// Config models cogni.yml. It is stored in the DB per scope and imported
// explicitly from file.
type Config struct {
	Scope struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
	} `yaml:"scope"`
	Signing struct {
		ChainID     string `yaml:"chain_id"`
		AppDomain   string `yaml:"app_domain"`
		SpecVersion string `yaml:"spec_version"`
	} `yaml:"signing"`
	// Weights maps a weighting dimension (activity kind) to its milli-unit
	// weight. Ingestion applies these upstream; the ledger records them on
	// each epoch for auditability.
	Weights map[string]int64 `yaml:"weights"`
	Pool    struct {
		RequiredComponents []string `yaml:"required_components"`
	} `yaml:"pool"`
	Roles map[string]RoleDef `yaml:"roles"`
}

type RoleDef struct {
	Description string `yaml:"description"`
}

// SigningContext returns the deployment-binding context for receipt messages.
func (c *Config) SigningContext() signing.Context {
	return signing.Context{
		ChainID:     c.Signing.ChainID,
		AppDomain:   c.Signing.AppDomain,
		SpecVersion: c.Signing.SpecVersion,
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scope.ID == "" {
		return fmt.Errorf("config.scope.id is required")
	}
	if c.Signing.ChainID == "" {
		return fmt.Errorf("config.signing.chain_id is required")
	}
	if c.Signing.AppDomain == "" {
		return fmt.Errorf("config.signing.app_domain is required")
	}
	if c.Signing.SpecVersion == "" {
		return fmt.Errorf("config.signing.spec_version is required")
	}
	for dim, w := range c.Weights {
		if dim == "" {
			return fmt.Errorf("config.weights contains empty dimension name")
		}
		if w <= 0 {
			return fmt.Errorf("weight for %s must be positive milli-units", dim)
		}
	}
	for _, comp := range c.Pool.RequiredComponents {
		if comp == "" {
			return fmt.Errorf("config.pool.required_components contains empty id")
		}
	}
	for roleID := range c.Roles {
		switch roleID {
		case "author", "reviewer", "approver":
		default:
			return fmt.Errorf("unknown role %s; roles are author, reviewer, approver", roleID)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cogni.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cogni scope config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a scope.
func Default(scopeID string) *Config {
	var cfg Config
	cfg.Scope.ID = scopeID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, scopeID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(scopeID string) string {
	return fmt.Sprintf(defaultTemplate, scopeID)
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

const defaultTemplate = `scope:
  id: %s
  description: "DAO contribution program"

signing:
  chain_id: "8453"
  app_domain: cogni.example
  spec_version: v1

weights:
  change.merged: 1000
  review.completed: 600
  issue.triaged: 250

pool:
  required_components:
    - subscription.revenue
    - treasury.allocation

roles:
  author:
    description: "Submits activity receipts for their own work"
  reviewer:
    description: "Attests to the work of others"
  approver:
    description: "Curates receipts, overrides allocations, records pool components"
`
