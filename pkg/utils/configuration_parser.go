package utils

import (
	"os"
	"path/filepath"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"gopkg.in/yaml.v2"
)

type config interface {
	entities.GatewayConfig | map[string]entities.SensorProfile
}

func readTextFile(filepathName string) ([]byte, error) {
	fileContent, err := os.ReadFile(filepath.Clean(filepathName))
	return fileContent, err
}

func ConfigurationParser[T config](filepathName string, configEntity T) (T, error) {
	fileContent, err := readTextFile(filepath.Clean(filepathName))
	if err != nil {
		return configEntity, err
	}

	err = yaml.Unmarshal(fileContent, &configEntity)
	return configEntity, err
}

// LoadGatewayConfig parses the gateway file, applies environment overrides and defaults.
func LoadGatewayConfig(filepathName string) (entities.GatewayConfig, error) {
	gatewayConfig, err := ConfigurationParser(filepathName, entities.GatewayConfig{})
	if err != nil {
		return gatewayConfig, err
	}
	ApplyEnvironmentOverrides(&gatewayConfig)
	gatewayConfig.ApplyDefaults()
	return gatewayConfig, gatewayConfig.Validate()
}
