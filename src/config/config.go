// Package config loads and validates the agent configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"buildreport-agent/src/faults"
)

// Wait modes for the analysis-availability stage.
const (
	WaitFixed = "fixed"
	WaitPoll  = "poll"
)

// Config is the complete agent configuration.
type Config struct {
	CI         CIConfig         `yaml:"ci"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	RuleEngine RuleEngineConfig `yaml:"rule_engine"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// CIConfig locates the build on the CI server.
type CIConfig struct {
	BaseURL     string `yaml:"base_url"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	JobPath     string `yaml:"job_path"` // e.g. "job/demo/"
	BuildNumber int    `yaml:"build_number" validate:"gte=1"`
	SCM         string `yaml:"scm" validate:"omitempty,oneof=git svn"` // empty when no integration is active
}

// AnalysisConfig contains analysis server connection settings
type AnalysisConfig struct {
	URL             string     `yaml:"url" validate:"required,baseurl"`
	User            string     `yaml:"user" validate:"required"`
	Password        string     `yaml:"password" validate:"required"`
	ProjectKey      string     `yaml:"project_key" validate:"required"`
	PageSize        int        `yaml:"page_size" validate:"min=1,max=500"`
	DuplicationRule string     `yaml:"duplication_rule" validate:"required"`
	Concurrency     int        `yaml:"concurrency" validate:"gte=0"` // 0: one fetch per issue
	Wait            WaitConfig `yaml:"wait"`
}

// WaitConfig controls how long the agent waits for the analysis report.
type WaitConfig struct {
	Mode         string        `yaml:"mode" validate:"oneof=fixed poll"`
	Delay        time.Duration `yaml:"delay" validate:"gte=0"` // 0 disables the fixed wait
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollTimeout  time.Duration `yaml:"poll_timeout" validate:"gt=0"`
}

// RuleEngineConfig addresses the downstream rule engine.
type RuleEngineConfig struct {
	URL   string `yaml:"url" validate:"required,baseurl"`
	Token string `yaml:"token" validate:"required,min=12"`
}

// LedgerConfig selects the run ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	Driver   string   `yaml:"driver" validate:"oneof=none memory redpanda"`
	Brokers  []string `yaml:"brokers" validate:"required_if=Driver redpanda"`
	ClientID string   `yaml:"client_id"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// HTTPConfig bounds individual upstream calls.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ProjectPath is the build-relative path on the CI server, e.g. "job/demo/42/".
func (c *CIConfig) ProjectPath() string {
	path := strings.Trim(c.JobPath, "/")
	if path != "" {
		path += "/"
	}
	return path + strconv.Itoa(c.BuildNumber) + "/"
}

// BuildKey identifies the build in the run ledger and on the event bus.
func (c *CIConfig) BuildKey() string {
	return strings.Trim(c.JobPath, "/") + "#" + strconv.Itoa(c.BuildNumber)
}

const defaultWaitDelay = 10 * time.Second

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig presets the fields whose zero value is meaningful, so an explicit
// zero in the file survives decoding.
func newConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{Wait: WaitConfig{Delay: defaultWaitDelay}},
	}
}

// Load reads the YAML file at path, expands ${VAR} references, layers environment
// overrides on top and fills defaults. An empty path loads from the environment only.
// Load does not validate; call Validate.
func Load(path string) (*Config, error) {
	cfg := newConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %v: %w", err, faults.ErrInvalidConfig)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Analysis.PageSize == 0 {
		cfg.Analysis.PageSize = 500
	}
	if cfg.Analysis.DuplicationRule == "" {
		cfg.Analysis.DuplicationRule = "common-java:DuplicatedBlocks"
	}
	if cfg.Analysis.Wait.Mode == "" {
		cfg.Analysis.Wait.Mode = WaitFixed
	}
	if cfg.Analysis.Wait.PollInterval == 0 {
		cfg.Analysis.Wait.PollInterval = 2 * time.Second
	}
	if cfg.Analysis.Wait.PollTimeout == 0 {
		cfg.Analysis.Wait.PollTimeout = 2 * time.Minute
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "memory"
		if cfg.Ledger.DSN != "" {
			cfg.Ledger.Driver = "postgres"
		}
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "memory"
	}
	if cfg.Events.ClientID == "" {
		cfg.Events.ClientID = "buildreport-agent"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
}

// applyEnv overrides file values with the variables the CI server exports
// and the BUILDREPORT_* variables.
func applyEnv(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"JENKINS_URL", &cfg.CI.BaseURL},
		{"BUILDREPORT_CI_USER", &cfg.CI.User},
		{"BUILDREPORT_CI_PASSWORD", &cfg.CI.Password},
		{"BUILDREPORT_JOB_PATH", &cfg.CI.JobPath},
		{"BUILDREPORT_SCM", &cfg.CI.SCM},
		{"BUILDREPORT_ANALYSIS_URL", &cfg.Analysis.URL},
		{"BUILDREPORT_ANALYSIS_USER", &cfg.Analysis.User},
		{"BUILDREPORT_ANALYSIS_PASSWORD", &cfg.Analysis.Password},
		{"BUILDREPORT_PROJECT_KEY", &cfg.Analysis.ProjectKey},
		{"BUILDREPORT_WAIT_MODE", &cfg.Analysis.Wait.Mode},
		{"BUILDREPORT_RULE_ENGINE_URL", &cfg.RuleEngine.URL},
		{"BUILDREPORT_TOKEN", &cfg.RuleEngine.Token},
		{"BUILDREPORT_LEDGER_DRIVER", &cfg.Ledger.Driver},
		{"BUILDREPORT_LEDGER_DSN", &cfg.Ledger.DSN},
		{"BUILDREPORT_EVENTS_DRIVER", &cfg.Events.Driver},
		{"BUILDREPORT_LOG_LEVEL", &cfg.Logging.Level},
		{"BUILDREPORT_LOG_FORMAT", &cfg.Logging.Format},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.name); ok {
			*s.dst = v
		}
	}

	if v, ok := os.LookupEnv("BUILD_NUMBER"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUILD_NUMBER %q is not a number: %w", v, faults.ErrInvalidConfig)
		}
		cfg.CI.BuildNumber = n
	}
	if v, ok := os.LookupEnv("BUILDREPORT_BROKERS"); ok {
		cfg.Events.Brokers = splitList(v)
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
