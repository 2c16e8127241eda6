package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"checkline/internal/domain"
)

// Config models checkline.yml.
type Config struct {
	Provider struct {
		Kind             string `yaml:"kind"`
		TokenEnv         string `yaml:"token_env"`
		WebhookSecretEnv string `yaml:"webhook_secret_env"`
	} `yaml:"provider"`
	Verify struct {
		// WorkflowFile is the workflow definition committed onto each task
		// branch. DispatchWorkflow, when set, names a dispatch-only workflow
		// pinned to the default branch instead.
		WorkflowFile     string `yaml:"workflow_file"`
		DispatchWorkflow string `yaml:"dispatch_workflow"`
		BranchPrefix     string `yaml:"branch_prefix"`
		PollDelaySeconds int    `yaml:"poll_delay_seconds"`
	} `yaml:"verify"`
	Limits struct {
		MaxDoingPerUser          int  `yaml:"max_doing_per_user"`
		MembershipCacheSeconds   int  `yaml:"membership_cache_seconds"`
		ProviderTimeoutSeconds   int  `yaml:"provider_timeout_seconds"`
		ProviderRetryOnTransient bool `yaml:"provider_retry_on_transient"`
	} `yaml:"limits"`
	Stack struct {
		Default domain.Stack `yaml:"default"`
	} `yaml:"stack"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'cl config init' to generate one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
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
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Provider.Kind != "github" {
		return fmt.Errorf("config.provider.kind must be 'github'")
	}
	if strings.TrimSpace(c.Provider.TokenEnv) == "" {
		return fmt.Errorf("config.provider.token_env is required")
	}
	if !strings.HasSuffix(c.Verify.WorkflowFile, ".yml") && !strings.HasSuffix(c.Verify.WorkflowFile, ".yaml") {
		return fmt.Errorf("config.verify.workflow_file must be a .yml or .yaml file name")
	}
	if strings.Contains(c.Verify.WorkflowFile, "/") {
		return fmt.Errorf("config.verify.workflow_file must be a bare file name")
	}
	if c.Verify.BranchPrefix == "" || strings.ContainsAny(c.Verify.BranchPrefix, " ~^:?*[\\") {
		return fmt.Errorf("config.verify.branch_prefix %q is not a valid ref prefix", c.Verify.BranchPrefix)
	}
	if c.Limits.MaxDoingPerUser < 1 {
		return fmt.Errorf("config.limits.max_doing_per_user must be >= 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Kind == "" {
		c.Provider.Kind = "github"
	}
	if c.Provider.TokenEnv == "" {
		c.Provider.TokenEnv = "CHECKLINE_GITHUB_TOKEN"
	}
	if c.Provider.WebhookSecretEnv == "" {
		c.Provider.WebhookSecretEnv = "CHECKLINE_WEBHOOK_SECRET"
	}
	if c.Verify.WorkflowFile == "" {
		c.Verify.WorkflowFile = "checkline-verify.yml"
	}
	if c.Verify.BranchPrefix == "" {
		c.Verify.BranchPrefix = "checkline/"
	}
	if c.Verify.PollDelaySeconds == 0 {
		c.Verify.PollDelaySeconds = 5
	}
	if c.Limits.MaxDoingPerUser == 0 {
		c.Limits.MaxDoingPerUser = 2
	}
	if c.Limits.MembershipCacheSeconds == 0 {
		c.Limits.MembershipCacheSeconds = 60
	}
	if c.Limits.ProviderTimeoutSeconds == 0 {
		c.Limits.ProviderTimeoutSeconds = 10
	}
	// Field by field: a partially declared stack keeps what it declares.
	if c.Stack.Default.Language == "" {
		c.Stack.Default.Language = "javascript"
	}
	if c.Stack.Default.Framework == "" {
		c.Stack.Default.Framework = "express"
	}
	if c.Stack.Default.TestRunner == "" {
		c.Stack.Default.TestRunner = "jest"
	}
	if c.Stack.Default.PackageManager == "" {
		c.Stack.Default.PackageManager = "npm"
	}
}

// Token reads the provider token from the configured environment variable.
func (c *Config) Token() string {
	return os.Getenv(c.Provider.TokenEnv)
}

// WebhookSecret reads the webhook shared secret from the environment.
func (c *Config) WebhookSecret() string {
	return os.Getenv(c.Provider.WebhookSecretEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "checkline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `provider:
  kind: github
  token_env: CHECKLINE_GITHUB_TOKEN
  webhook_secret_env: CHECKLINE_WEBHOOK_SECRET

verify:
  workflow_file: checkline-verify.yml
  # Set dispatch_workflow to trigger a single dispatch-only workflow pinned
  # to the default branch instead of the per-branch workflow file.
  dispatch_workflow: ""
  branch_prefix: checkline/
  poll_delay_seconds: 5

limits:
  max_doing_per_user: 2
  membership_cache_seconds: 60
  provider_timeout_seconds: 10
  provider_retry_on_transient: true

stack:
  default:
    language: javascript
    framework: express
    test_runner: jest
    package_manager: npm
`
