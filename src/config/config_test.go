package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildreport-agent/src/faults"
)

const sampleYAML = `
ci:
  base_url: http://jenkins:8080/
  job_path: job/demo/
  build_number: 42
  scm: git
analysis:
  url: http://sonar:9000
  user: admin
  password: ${TEST_SONAR_PASSWORD}
  project_key: nl.devgames:demo
  wait:
    mode: poll
    poll_timeout: 30s
rule_engine:
  url: https://rules.example.com
  token: abcdefghijkl
ledger:
  driver: postgres
  dsn: postgres://localhost/buildreport
events:
  driver: redpanda
  brokers: [localhost:19092]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buildreport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.CI.BuildNumber = 42
	cfg.Analysis.URL = "http://sonar:9000"
	cfg.Analysis.User = "admin"
	cfg.Analysis.Password = "admin"
	cfg.Analysis.ProjectKey = "demo"
	cfg.RuleEngine.URL = "http://rules:8080"
	cfg.RuleEngine.Token = "abcdefghijkl"
	return cfg
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_SONAR_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://jenkins:8080/", cfg.CI.BaseURL)
	assert.Equal(t, 42, cfg.CI.BuildNumber)
	assert.Equal(t, "s3cret", cfg.Analysis.Password)
	assert.Equal(t, WaitPoll, cfg.Analysis.Wait.Mode)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Wait.PollTimeout)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Events.Brokers)

	// defaults
	assert.Equal(t, 500, cfg.Analysis.PageSize)
	assert.Equal(t, "common-java:DuplicatedBlocks", cfg.Analysis.DuplicationRule)
	assert.Equal(t, 10*time.Second, cfg.Analysis.Wait.Delay)
	assert.Equal(t, 2*time.Second, cfg.Analysis.Wait.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)

	require.NoError(t, Validate(cfg))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JENKINS_URL", "http://ci.internal/")
	t.Setenv("BUILD_NUMBER", "7")
	t.Setenv("BUILDREPORT_TOKEN", "zyxwvutsrqponm")
	t.Setenv("BUILDREPORT_BROKERS", "a:9092, b:9092,,")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://ci.internal/", cfg.CI.BaseURL)
	assert.Equal(t, 7, cfg.CI.BuildNumber)
	assert.Equal(t, "zyxwvutsrqponm", cfg.RuleEngine.Token)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.Brokers)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BUILDREPORT_ANALYSIS_URL", "http://sonar:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://sonar:9000", cfg.Analysis.URL)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ci: [not, a, map"))
	assert.ErrorIs(t, err, faults.ErrInvalidConfig)

	t.Setenv("BUILD_NUMBER", "forty-two")
	_, err = Load("")
	assert.ErrorIs(t, err, faults.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"https allowed", func(c *Config) { c.Analysis.URL = "https://sonar.example.com" }, ""},
		{"missing analysis url", func(c *Config) { c.Analysis.URL = "" }, "analysis.url"},
		{"trailing slash", func(c *Config) { c.Analysis.URL = "http://sonar:9000/" }, "analysis.url"},
		{"no scheme", func(c *Config) { c.RuleEngine.URL = "rules:8080" }, "rule_engine.url"},
		{"short token", func(c *Config) { c.RuleEngine.Token = "short" }, "rule_engine.token"},
		{"missing user", func(c *Config) { c.Analysis.User = "" }, "analysis.user"},
		{"missing password", func(c *Config) { c.Analysis.Password = "" }, "analysis.password"},
		{"missing project key", func(c *Config) { c.Analysis.ProjectKey = "" }, "analysis.project_key"},
		{"unknown wait mode", func(c *Config) { c.Analysis.Wait.Mode = "forever" }, "analysis.wait.mode"},
		{"page size too large", func(c *Config) { c.Analysis.PageSize = 1000 }, "analysis.page_size"},
		{"postgres without dsn", func(c *Config) { c.Ledger.Driver = "postgres" }, "ledger.dsn"},
		{"redpanda without brokers", func(c *Config) { c.Events.Driver = "redpanda" }, "events.brokers"},
		{"unsupported scm", func(c *Config) { c.CI.SCM = "hg" }, "ci.scm"},
		{"missing build number", func(c *Config) { c.CI.BuildNumber = 0 }, "ci.build_number"},
		{"fixed wait disabled", func(c *Config) { c.Analysis.Wait.Delay = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, faults.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_ExplicitZeroDelay(t *testing.T) {
	cfg, err := Load(writeConfig(t, "analysis:\n  wait:\n    delay: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Analysis.Wait.Delay)

	cfg, err = Load(writeConfig(t, "analysis:\n  wait:\n    mode: fixed\n"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Analysis.Wait.Delay)
}

func TestLoad_LedgerDriverFollowsDSN(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ledger:\n  dsn: postgres://localhost/buildreport\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Ledger.Driver)

	cfg, err = Load(writeConfig(t, "ledger:\n  driver: memory\n  dsn: postgres://localhost/buildreport\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Driver, "an explicit driver wins")
}

func TestValidate_BaseURLMessage(t *testing.T) {
	cfg := validConfig()
	cfg.RuleEngine.URL = "ftp://rules"

	err := Validate(cfg)
	require.ErrorIs(t, err, faults.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "rule_engine.url: url must start with http:// or https:// and must not end with /")
}

func TestValidate_ReportsEveryField(t *testing.T) {
	err := Validate(Default())
	require.ErrorIs(t, err, faults.ErrInvalidConfig)
	for _, field := range []string{"analysis.url", "analysis.user", "analysis.password", "analysis.project_key", "rule_engine.url", "rule_engine.token"} {
		assert.True(t, strings.Contains(err.Error(), field), "missing %s in %q", field, err)
	}
}

func TestCIConfig_Paths(t *testing.T) {
	ci := CIConfig{JobPath: "/job/demo/", BuildNumber: 42}
	assert.Equal(t, "job/demo/42/", ci.ProjectPath())
	assert.Equal(t, "job/demo#42", ci.BuildKey())

	ci = CIConfig{BuildNumber: 1}
	assert.Equal(t, "1/", ci.ProjectPath())
}
