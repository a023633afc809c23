package utils

import (
	"os"
	"strconv"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
)

const (
	DuplicationFilterDisabled = "0"
	DuplicationFilterEnabled  = "1"
)

func GetValueFromEnvironmentVariable(variableName, defaultValue string) string {
	value := os.Getenv(variableName)
	if value != "" {
		return value
	}
	return defaultValue
}

// ApplyEnvironmentOverrides lets the deployment override file settings.
// Invalid numeric values are ignored and the file value is kept.
func ApplyEnvironmentOverrides(config *entities.GatewayConfig) {
	config.Session.AggregatorID = GetValueFromEnvironmentVariable("GATEWAY_AGGREGATOR_ID", config.Session.AggregatorID)
	config.Cloud.URL = GetValueFromEnvironmentVariable("GATEWAY_AMQP_URL", config.Cloud.URL)
	config.Log.Level = GetValueFromEnvironmentVariable("GATEWAY_LOG_LEVEL", config.Log.Level)
	config.Storage.DatabasePath = GetValueFromEnvironmentVariable("GATEWAY_DATABASE_PATH", config.Storage.DatabasePath)

	switch GetValueFromEnvironmentVariable("DUPLICATION_FILTER", "") {
	case DuplicationFilterEnabled:
		config.Cloud.DuplicationFilter = true
	case DuplicationFilterDisabled:
		config.Cloud.DuplicationFilter = false
	}
	if value, err := strconv.ParseUint(GetValueFromEnvironmentVariable("FILTER_CAPACITY", ""), 10, 0); err == nil {
		config.Cloud.FilterCapacity = uint(value)
	}
	if value, err := strconv.ParseFloat(GetValueFromEnvironmentVariable("DUPLICATION_PROBABILITY", ""), 64); err == nil {
		config.Cloud.FilterProbability = value
	}
	if value, err := strconv.ParseFloat(GetValueFromEnvironmentVariable("RESET_FILTER_USAGE_PERCENTAGE", ""), 32); err == nil {
		config.Cloud.FilterResetUsage = float32(value)
	}
}
