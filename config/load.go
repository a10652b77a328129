package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file inside the home config directory.
const FileName = "config.yaml"

// DefaultPath returns where init writes the config of home.
func DefaultPath(home string) string {
	return filepath.Join(home, "config", FileName)
}

// NewViper returns a viper holding the defaults of home, overridable by
// CKPTBERRY_ environment variables.
func NewViper(home string) *viper.Viper {
	v := viper.New()
	for k, val := range Default(home).settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file over the defaults held by v and validates the result.
// An empty file name reads nothing.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.ValidateBasic(); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteFile writes c to path as YAML, creating parent directories.
func (c *Config) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	v := viper.New()
	for k, val := range c.settings() {
		v.Set(k, val)
	}
	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}
