// Package configuration loads the daemon's yaml configuration: a base
// application.yml overlaid by application-<profile>.yml, with strict
// ${ENV} expansion in both.
package configuration

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/littlebaby/bro/internal/configuration/util"
)

func Load(dir string) (*Config, error) {
	cfg, err := loadBaseConfig(dir)
	if err != nil {
		return nil, err
	}

	if cfg.Application.Profile != "" {
		if err := loadProfileConfig(dir, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func loadBaseConfig(dir string) (*Config, error) {
	baseConfig, err := util.LoadAndExpandYaml(dir, "application")
	if err != nil {
		slog.Error("Error parsing base config", "Error", err.Error())
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal([]byte(baseConfig), &cfg); err != nil {
		slog.Error("Error parsing base config", "Error", err.Error())
		return nil, err
	}

	return &cfg, nil
}

func loadProfileConfig(dir string, cfg *Config) error {
	profileConfig, err := util.LoadAndExpandYaml(dir, fmt.Sprintf("application-%s", cfg.Application.Profile))
	if err != nil {
		slog.Error("Error loading profile config", "Error", err.Error())
		return err
	}

	if err := yaml.Unmarshal([]byte(profileConfig), cfg); err != nil {
		slog.Error("Error parsing profile config", "Error", err.Error())
		return err
	}

	return nil
}
