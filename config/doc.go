// Package config loads validator configuration from a YAML file and
// CKPTBERRY_ environment variables through viper.
package config
