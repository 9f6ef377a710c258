// Package config loads gk-healter settings from YAML, .env and GKH_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/GK-Developers/GK-Healter/internal/audit"
	"github.com/GK-Developers/GK-Healter/internal/cleanup"
	"github.com/GK-Developers/GK-Healter/internal/logger"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/scheduler"
)

const (
	DefaultPath = "/etc/gk-healter/config.yaml"
	EnvPrefix   = "GKH"
)

// Config is the complete runtime configuration
type Config struct {
	// Root is the filesystem the tool operates on, "/" outside tests and chroots
	Root     string         `mapstructure:"root"`
	Home     string         `mapstructure:"home"`
	Log      logger.Config  `mapstructure:"log"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Exec     ExecConfig     `mapstructure:"exec"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Audit    AuditConfig    `mapstructure:"audit"`
	History  HistoryConfig  `mapstructure:"history"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type ScheduleConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	scheduler.Policy `mapstructure:",squash"`
}

type ExecConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Escalator    string        `mapstructure:"escalator"`
	PolicyFile   string        `mapstructure:"policy_file"`
	PolicyPrefix string        `mapstructure:"policy_prefix"`
}

type CleanupConfig struct {
	TempMaxAge time.Duration `mapstructure:"temp_max_age"`
	// AppCacheDirs are directory names below ~/.cache
	AppCacheDirs []string `mapstructure:"app_cache_dirs"`
	// LockPath is the run lock shared by the CLI and the daemon
	LockPath string `mapstructure:"lock_path"`
}

type AuditConfig struct {
	SuidAllowlist []string       `mapstructure:"suid_allowlist"`
	MaxFindings   int            `mapstructure:"max_findings"`
	LoginWindow   time.Duration  `mapstructure:"login_window"`
	Weights       map[string]int `mapstructure:"weights"`
}

type HistoryConfig struct {
	// Path of the SQLite file. Empty disables history.
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	// Listen address of the daemon's HTTP surface. Empty disables it.
	Listen string `mapstructure:"listen"`
}

// defaults are kept as plain values so WriteDefault renders readable YAML
func defaults() map[string]interface{} {
	policy := scheduler.DefaultPolicy()
	categories := make([]string, 0, len(policy.AllowedCategories))
	for _, c := range policy.AllowedCategories {
		categories = append(categories, string(c))
	}
	weights := map[string]interface{}{}
	for sev, w := range audit.DefaultScorePolicy().Weights {
		weights[string(sev)] = w
	}

	return map[string]interface{}{
		"root":            "/",
		"home":            "",
		"log.level":       "info",
		"log.dir":         "/var/log/gk-healter",
		"log.max_size":    50,
		"log.max_backups": 5,
		"log.max_age":     30,
		"log.compress":    true,

		"schedule.enabled":                     false,
		"schedule.poll_interval":               scheduler.DefaultPollInterval.String(),
		"schedule.idle_threshold":              policy.IdleThreshold.String(),
		"schedule.disk_free_threshold_percent": policy.DiskFreeThresholdPercent,
		"schedule.idle_only":                   policy.IdleOnly,
		"schedule.require_ac_power":            policy.RequireACPower,
		"schedule.interval":                    policy.Interval.String(),
		"schedule.allowed_categories":          categories,
		"schedule.cooldown":                    policy.Cooldown.String(),
		"schedule.guard":                       "",

		"exec.timeout":       privexec.DefaultTimeout.String(),
		"exec.escalator":     privexec.DefaultEscalator,
		"exec.policy_file":   "/usr/share/polkit-1/actions/io.github.gkhealter.policy",
		"exec.policy_prefix": privexec.DefaultPolicyPrefix,

		"cleanup.temp_max_age":   (7 * 24 * time.Hour).String(),
		"cleanup.app_cache_dirs": []string{},
		"cleanup.lock_path":      cleanup.DefaultLockPath,

		"audit.suid_allowlist": []string{},
		"audit.max_findings":   audit.DefaultMaxFindings,
		"audit.login_window":   audit.DefaultLoginWindow.String(),
		"audit.weights":        weights,

		"history.path": "/var/lib/gk-healter/history.db",
		"http.listen":  "127.0.0.1:9477",
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path when it exists. A missing file at DefaultPath is not an
// error, any other missing path is.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil || path != DefaultPath {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Home == "" {
		cfg.Home = userHome()
	}
	return &cfg, nil
}

// userHome falls back to the passwd entry when HOME is unset, as it is for
// system services.
func userHome() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	if u, err := user.Current(); err == nil {
		return u.HomeDir
	}
	return ""
}

// Validate checks the values no component defaults on its own
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("root must be an absolute path, got %q", c.Root)
	}
	if c.Home != "" && !filepath.IsAbs(c.Home) {
		return fmt.Errorf("home must be an absolute path, got %q", c.Home)
	}
	if c.Exec.Timeout <= 0 {
		return fmt.Errorf("exec.timeout must be positive")
	}
	if c.Cleanup.TempMaxAge < 0 {
		return fmt.Errorf("cleanup.temp_max_age must not be negative")
	}
	for _, dir := range c.Cleanup.AppCacheDirs {
		if dir == "" || strings.ContainsRune(dir, '/') || dir == "." || dir == ".." {
			return fmt.Errorf("cleanup.app_cache_dirs entries must be plain directory names, got %q", dir)
		}
	}
	if err := c.ScorePolicy().Validate(); err != nil {
		return fmt.Errorf("audit.weights: %w", err)
	}
	if c.Schedule.Enabled {
		if err := c.Schedule.Policy.Validate(); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	return nil
}

// ScorePolicy converts the configured weights
func (c *Config) ScorePolicy() audit.ScorePolicy {
	weights := make(map[audit.Severity]int, len(c.Audit.Weights))
	for sev, w := range c.Audit.Weights {
		weights[audit.Severity(strings.ToLower(sev))] = w
	}
	return audit.ScorePolicy{Weights: weights}
}

// WriteDefault writes the default configuration as YAML. An existing file
// is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(nest(defaults()))
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// nest turns dotted keys into nested maps
func nest(flat map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for key, value := range flat {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = value
	}
	return out
}
