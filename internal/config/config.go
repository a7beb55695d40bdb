package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"auditflow/internal/domain"
)

// Config models auditflow.yml. One config per project, stored in the DB
// and imported explicitly.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Approvals struct {
		// Presets are named approval-chain templates applied at task
		// creation. Roles are normalized to fixed priority on load.
		Presets  map[string]ApprovalPreset `yaml:"presets"`
		Defaults struct {
			// Preset per client interaction mode when a task names none.
			Interact map[string]string `yaml:"interact"`
		} `yaml:"defaults"`
	} `yaml:"approvals"`
	Storage struct {
		Root string `yaml:"root"`
	} `yaml:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ApprovalPreset struct {
	Roles []string `yaml:"roles"`
	Type  string   `yaml:"type"`
}

type WebhookConfig struct {
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
	// Events limits delivery to the named event types; empty means all.
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with af project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure and normalizes
// preset roles into fixed priority order.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "audit-engagement" {
		return fmt.Errorf("config.project.kind must be 'audit-engagement'")
	}
	for name, preset := range c.Approvals.Presets {
		for _, role := range preset.Roles {
			if !domain.ValidApprovalRole(role) {
				return fmt.Errorf("preset %s has invalid approval role %s", name, role)
			}
		}
		switch preset.Type {
		case domain.ApprovalOnce, domain.ApprovalAllAttempts:
		default:
			return fmt.Errorf("preset %s has invalid approval type %s", name, preset.Type)
		}
		preset.Roles = domain.SortRoles(preset.Roles)
		c.Approvals.Presets[name] = preset
	}
	for interact, preset := range c.Approvals.Defaults.Interact {
		switch interact {
		case domain.InteractReadOnly, domain.InteractRestricted, domain.InteractUpload, domain.InteractApproval:
		default:
			return fmt.Errorf("defaults.interact has unknown mode %s", interact)
		}
		if preset == "" {
			return fmt.Errorf("defaults.interact.%s is empty", interact)
		}
		if _, ok := c.Approvals.Presets[preset]; !ok {
			return fmt.Errorf("defaults.interact.%s references unknown preset %s", interact, preset)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "auditflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "audit-engagement"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	_ = cfg.Validate()
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

// PresetFor resolves the approval preset for a client interaction mode,
// falling back to the review preset.
func (c *Config) PresetFor(interact string) ApprovalPreset {
	if name, ok := c.Approvals.Defaults.Interact[interact]; ok {
		if p, ok := c.Approvals.Presets[name]; ok {
			return p
		}
	}
	if p, ok := c.Approvals.Presets["review"]; ok {
		return p
	}
	return ApprovalPreset{Type: domain.ApprovalAllAttempts}
}

const defaultTemplate = `project:
  id: %s
  kind: audit-engagement

approvals:
  presets:
    review:
      roles: [team_leader, manager]
      type: once

    sign_off:
      roles: [team_leader, supervisor, manager, partner]
      type: all_attempts

    fieldwork:
      roles: [team_leader]
      type: once

  defaults:
    interact:
      read_only: fieldwork
      restricted: review
      upload: review
      approval: sign_off

storage:
  root: ""
`
