// Package config loads and validates the bundlefix CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/store/backend"
)

// Configuration keys as stored in config.yaml.
const (
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
	KeyBackend       = "backend"
	KeyBackendConfig = "backend_config"
	KeyConcurrency   = "concurrency"
	KeyWho           = "who"
)

// EnvPrefix is the prefix viper uses for environment overrides.
const EnvPrefix = "BUNDLEFIX"

// DirName is the directory under $HOME holding config.yaml.
const DirName = ".bundlefix"

// Config is the effective CLI configuration.
type Config struct {
	LogLevel      string            `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat     string            `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=auto json console"`
	Backend       string            `mapstructure:"backend" yaml:"backend" validate:"required,backend"`
	BackendConfig map[string]string `mapstructure:"backend_config" yaml:"backend_config,omitempty"`
	Concurrency   int               `mapstructure:"concurrency" yaml:"concurrency" validate:"min=0,max=64"`
	Who           string            `mapstructure:"who" yaml:"who,omitempty" validate:"omitempty,max=128"`
}

// settableKeys lists the keys `config set` accepts, with a description.
var settableKeys = map[string]string{
	KeyLogLevel:    "Log level: trace, debug, info, warn, error",
	KeyLogFormat:   "Log format: auto, json, console",
	KeyBackend:     "Default store backend type",
	KeyConcurrency: "Projects migrated in parallel by `migrate --all`",
	KeyWho:         "Name recorded in project locks",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "auto")
	v.SetDefault(KeyBackend, "local")
	v.SetDefault(KeyConcurrency, 4)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ParseError("config", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("backend", func(fl validator.FieldLevel) bool {
			name := fl.Field().String()
			for _, t := range backend.Types() {
				if t == name {
					return true
				}
			}
			return false
		})

		validateInst = v
	})

	return validateInst
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ValidationError("configuration is nil", nil)
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}
	return nil
}

func convertValidationError(err error) error {
	ves, ok := err.(validator.ValidationErrors)
	if !ok || len(ves) == 0 {
		return errors.ValidationError(err.Error(), nil)
	}
	fe := ves[0]
	field := yamlName(fe)
	msg := fmt.Sprintf("%s failed validation for tag '%s'", field, fe.Tag())
	if fe.Tag() == "backend" {
		msg = fmt.Sprintf("unknown backend %q (available: %s)", fe.Value(), strings.Join(backend.Types(), ", "))
	}
	return errors.ValidationError(msg, map[string]interface{}{
		"field": field,
		"tag":   fe.Tag(),
	})
}

// yamlName maps a struct field error back to its config key.
func yamlName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "LogLevel":
		return KeyLogLevel
	case "LogFormat":
		return KeyLogFormat
	case "BackendConfig":
		return KeyBackendConfig
	default:
		return strings.ToLower(fe.StructField())
	}
}

// NormalizeKey converts CLI-style keys (with dashes) to config keys.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

// SettableKeys returns the keys `config set` accepts, sorted, with descriptions.
func SettableKeys() [][2]string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, settableKeys[k]}
	}
	return out
}

// Set validates and stores a single key on v. Backend config entries use the
// form backend_config.<name>.
func Set(v *viper.Viper, key, value string) error {
	key = NormalizeKey(key)
	if name, ok := strings.CutPrefix(key, KeyBackendConfig+"."); ok {
		if name == "" {
			return errors.ValidationError("backend config key is empty", nil)
		}
		v.Set(key, value)
		return nil
	}
	if _, ok := settableKeys[key]; !ok {
		return errors.ValidationError(fmt.Sprintf("unknown configuration key %q", key), map[string]interface{}{
			"key": key,
		})
	}

	probe := viper.New()
	SetDefaults(probe)
	for _, k := range v.AllKeys() {
		probe.Set(k, v.Get(k))
	}
	probe.Set(key, value)
	if _, err := Load(probe); err != nil {
		return err
	}

	v.Set(key, value)
	return nil
}

// DefaultPath returns ~/.bundlefix/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName, "config.yaml"), nil
}

// Write saves v to the file it was read from, or to DefaultPath.
func Write(v *viper.Viper) error {
	configPath := v.ConfigFileUsed()
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(configPath)
}
