package cmd

import (
	_ "embed" // Required for go:embed
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
)

//go:embed alertingservice/config.yaml
var configFile []byte

// Load parses the embedded configuration file and applies environment
// overrides on top of it.
func Load(logger zerolog.Logger) (*config.AppConfig, error) {
	return LoadFrom(configFile, logger)
}

// LoadFrom is Load for an explicit yaml document.
func LoadFrom(raw []byte, logger zerolog.Logger) (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}

	cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(cfg, logger)
}
