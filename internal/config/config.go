// Package config loads and persists the settings of the vt command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	dirName  = ".vt"
	fileName = "config.yml"

	// EnvPrefix is the prefix of environment variables overriding the file.
	EnvPrefix = "VT"
)

// Config represents the CLI configuration.
type Config struct {
	APIKey    string `json:"apikey"               yaml:"apikey"`
	Host      string `json:"host,omitempty"       yaml:"host,omitempty"`
	Agent     string `json:"agent,omitempty"      yaml:"agent,omitempty"`
	Output    string `json:"output,omitempty"     yaml:"output,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"    yaml:"verbose,omitempty"`
	VerifyTLS bool   `json:"verify_tls,omitempty" yaml:"verify_tls,omitempty"`
}

// DefaultPath returns $HOME/.vt/config.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", constants.ErrNoConfigPath, err)
	}

	return filepath.Join(home, dirName, fileName), nil
}

// NewViper returns a viper instance configured by Configure.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	err := Configure(v, path)
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Configure makes v read path (or the default path when empty) and VT_*
// environment variables. A missing file is not an error.
func Configure(v *viper.Viper, path string) error {
	v.SetDefault("output", constants.FormatTable)
	v.SetDefault("agent", "vt-cli")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return err
		}

		path = defaultPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return nil
}

// FromViper builds a Config from v.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		APIKey:    v.GetString("apikey"),
		Host:      v.GetString("host"),
		Agent:     v.GetString("agent"),
		Output:    v.GetString("output"),
		Verbose:   v.GetBool("verbose"),
		VerifyTLS: v.GetBool("verify_tls"),
	}
}

// Load reads the configuration at path, or the default path when empty.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}

	return FromViper(v), nil
}

// Save writes config to path, or the default path when empty, creating the
// directory if needed. The file is only readable by its owner since it holds
// the API key.
func Save(config *Config, path string) error {
	if config.APIKey == "" {
		return constants.ErrEmptyAPIKey
	}

	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return err
		}

		path = defaultPath
	}

	err := os.MkdirAll(filepath.Dir(path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
