// Package config loads sliptacore settings from embedded defaults, an
// optional YAML file and SLIPTA_ environment variables, in increasing order
// of precedence. Nested keys map to variables by replacing dots with
// underscores: storage.driver is SLIPTA_STORAGE_DRIVER.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"sliptacore/internal/blob"
	"sliptacore/internal/core"
	"sliptacore/internal/events"
	"sliptacore/internal/lifecycle"
	"sliptacore/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SLIPTA"

const (
	configName = "sliptactl"
	configType = "yaml"
)

//go:embed defaults.yaml
var defaults []byte

// Config is the resolved application configuration.
type Config struct {
	Log       logging.Config      `mapstructure:"log"`
	Storage   core.StorageOptions `mapstructure:"storage"`
	Blob      blob.Config         `mapstructure:"blob"`
	Events    events.Config       `mapstructure:"events"`
	Catalog   Catalog             `mapstructure:"catalog"`
	Lifecycle Lifecycle           `mapstructure:"lifecycle"`
	Observe   Observability       `mapstructure:"observability"`
}

// Catalog locates a checklist file. An empty path selects the built-in catalog.
type Catalog struct {
	Path string `mapstructure:"path"`
}

// Lifecycle holds audit and action plan workflow settings.
type Lifecycle struct {
	CompletionPolicy  string `mapstructure:"completion_policy"`
	ActionPlanDueDays int    `mapstructure:"action_plan_due_days"`
}

// Loaded reports where the configuration came from.
type Loaded struct {
	Config         Config
	ConfigFileUsed string
}

// Loader resolves configuration files from a list of search paths.
type Loader struct {
	searchPaths []string
}

// NewLoader returns a loader that looks for sliptactl.yaml in searchPaths.
func NewLoader(searchPaths ...string) *Loader {
	return &Loader{searchPaths: append([]string(nil), searchPaths...)}
}

// Load merges defaults, the config file (explicit path or first match in the
// search paths) and the environment, then validates the result.
func (l *Loader) Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetConfigType(configType)
	if err := v.MergeConfig(bytes.NewReader(defaults)); err != nil {
		return Loaded{}, fmt.Errorf("failed to merge embedded configuration: %w", err)
	}
	v.SetConfigName(configName)
	for _, p := range l.searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Loaded{}, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Loaded{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Loaded{}, err
	}
	return Loaded{Config: cfg, ConfigFileUsed: v.ConfigFileUsed()}, nil
}

// Validate rejects settings the service would refuse at start-up.
func (c Config) Validate() error {
	if _, err := lifecycle.ParseCompletionPolicy(c.Lifecycle.CompletionPolicy); err != nil {
		return fmt.Errorf("lifecycle.completion_policy: %w", err)
	}
	if c.Lifecycle.ActionPlanDueDays < 1 {
		return fmt.Errorf("lifecycle.action_plan_due_days must be positive, got %d", c.Lifecycle.ActionPlanDueDays)
	}
	if err := c.Observe.Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if strings.TrimSpace(c.Blob.S3.Bucket) == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver: unknown driver %q", c.Blob.Driver)
	}
	return nil
}

// ServiceOptions translates lifecycle settings into service options and
// installs the sinks of telemetry, which may be nil.
func (c Config) ServiceOptions(telemetry *Telemetry) []core.ServiceOption {
	policy, _ := lifecycle.ParseCompletionPolicy(c.Lifecycle.CompletionPolicy)
	opts := []core.ServiceOption{
		core.WithCompletionPolicy(policy),
		core.WithDueDays(c.Lifecycle.ActionPlanDueDays),
	}
	return append(opts, telemetry.Options()...)
}
