// Package config provides configuration loading for auditum.
//
// Configuration is loaded with Viper, supporting YAML config files and
// environment variable overrides. Defaults work out of the box for a Go
// project audited from its own root.
//
// Configuration priority (highest to lowest):
//  1. Command-line flags (bound by the cli package)
//  2. Environment variables (AUDITUM_ prefix, e.g. AUDITUM_PLAN_PATH)
//  3. Config file named by AUDITUM_CONFIG_PATH
//  4. <user config dir>/auditum/auditum.yaml
//  5. ./auditum.yaml
//  6. [DefaultConfig] defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for one invocation.
type Config struct {
	// Bundle names the audit bundle being run (operator-facing label).
	Bundle string `mapstructure:"bundle"`

	// Agent forces a specific backend ("claude", "gemini", "codex").
	// Empty means autodetect.
	Agent string `mapstructure:"agent"`

	// Model forces a model identifier, passed to the backend verbatim.
	// Empty means prompt interactively (default model when declined).
	Model string `mapstructure:"model"`

	// PreconfiguredAgents lists backends chosen in earlier installs, in
	// preference order. Consulted during autodetection.
	PreconfiguredAgents []string `mapstructure:"preconfigured_agents"`

	// Technology selects the preflight table row for the target project.
	Technology string `mapstructure:"technology"`

	// PlanPath is the plan document location.
	PlanPath string `mapstructure:"plan_path"`

	// RuleDir holds one rule definition per step identifier.
	RuleDir string `mapstructure:"rule_dir"`

	// TemplatePath is the report template passed through to the report
	// step's rule; the engine does not interpret it.
	TemplatePath string `mapstructure:"template_path"`

	// ArtifactsDir and ReportPath are cleared and rewritten every run.
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	ReportPath   string `mapstructure:"report_path"`

	// PreflightTablePath overrides the embedded technology table.
	PreflightTablePath string `mapstructure:"preflight_table_path"`

	// DisablePreflight sends every step to the agent, for debugging or
	// agent-hosted contexts that cannot shell out.
	DisablePreflight bool `mapstructure:"disable_preflight"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Bundle:       "default",
		Technology:   "go",
		PlanPath:     "audit-plan.md",
		RuleDir:      "rules",
		ArtifactsDir: filepath.Join("reports", ".artifacts"),
		ReportPath:   filepath.Join("reports", "audit-report.md"),
	}
}

// Loader loads configuration through Viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with defaults, env binding, and config file
// discovery configured.
func NewLoader() *Loader {
	v := viper.New()

	// Every key gets a default so environment overrides are visible to
	// Unmarshal even when no config file sets the key.
	def := DefaultConfig()
	v.SetDefault("bundle", def.Bundle)
	v.SetDefault("agent", "")
	v.SetDefault("model", "")
	v.SetDefault("preconfigured_agents", []string{})
	v.SetDefault("technology", def.Technology)
	v.SetDefault("plan_path", def.PlanPath)
	v.SetDefault("rule_dir", def.RuleDir)
	v.SetDefault("template_path", "")
	v.SetDefault("artifacts_dir", def.ArtifactsDir)
	v.SetDefault("report_path", def.ReportPath)
	v.SetDefault("preflight_table_path", "")
	v.SetDefault("disable_preflight", false)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("AUDITUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Viper exposes the underlying viper instance so the cli package can bind
// command-line flags into the same priority chain.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load reads the config file (if any) and unmarshals the merged settings.
//
// A missing config file is not an error; a malformed one is.
func (l *Loader) Load() (Config, error) {
	if path := l.configFilePath(); path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// configFilePath discovers the config file, highest priority first.
// Returns empty when no config file exists anywhere.
func (l *Loader) configFilePath() string {
	if path := os.Getenv("AUDITUM_CONFIG_PATH"); path != "" {
		return path
	}

	if userDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(userDir, "auditum", "auditum.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if _, err := os.Stat("auditum.yaml"); err == nil {
		return "auditum.yaml"
	}

	return ""
}
