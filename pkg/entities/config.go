package entities

import (
	"fmt"
	"time"
)

const (
	TransportSerial string = "serial"
	TransportTCP    string = "tcp"

	defaultSerialAddress     = "/dev/rfcomm0"
	defaultBaudRate          = 9600
	defaultReadTimeout       = 0
	defaultWorkers           = 4
	defaultQueueSize         = 256
	defaultDatabasePath      = "data/posture.db"
	defaultRegistryPath      = "data/sensors.yaml"
	defaultAlertTopic        = "posture/alerts/fall"
	defaultAlertClientID     = "posture-gateway"
	defaultMetricsAddress    = ":9090"
	defaultLogLevel          = "info"

	DefaultFilterCapacity    = 1000000
	DefaultFilterProbability = 0.01
	DefaultFilterResetUsage  = 75
)

// GatewayConfig is the root of the gateway configuration file.
type GatewayConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Parser    ParserConfig    `yaml:"parser"`
	Processor ProcessorConfig `yaml:"processor"`
	Storage   StorageConfig   `yaml:"storage"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Registry  RegistryConfig  `yaml:"registry"`
	Session   SessionConfig   `yaml:"session"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type TransportConfig struct {
	Kind          string        `yaml:"kind"`
	Address       string        `yaml:"address"`
	BaudRate      int           `yaml:"baudRate"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	DeviceAddress string        `yaml:"deviceAddress"`
}

type ParserConfig struct {
	MaxBufferSize int `yaml:"maxBufferSize"`
}

type ProcessorConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queueSize"`
	AlertWindow time.Duration `yaml:"alertWindow"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"databasePath"`
}

type CloudConfig struct {
	Enabled           bool    `yaml:"enabled"`
	URL               string  `yaml:"url"`
	UserToken         string  `yaml:"userToken"`
	DuplicationFilter bool    `yaml:"duplicationFilter"`
	FilterCapacity    uint    `yaml:"filterCapacity"`
	FilterProbability float64 `yaml:"filterProbability"`
	// FilterResetUsage is a percentage of the filter capacity.
	FilterResetUsage float32 `yaml:"filterResetUsage"`
}

type AlertConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
}

type RegistryConfig struct {
	FilePath string `yaml:"filePath"`
}

type SessionConfig struct {
	AggregatorID string `yaml:"aggregatorId"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills every zero value with its default.
func (c *GatewayConfig) ApplyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportSerial
	}
	if c.Transport.Address == "" && c.Transport.Kind == TransportSerial {
		c.Transport.Address = defaultSerialAddress
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = defaultBaudRate
	}
	if c.Transport.ReadTimeout == 0 {
		c.Transport.ReadTimeout = defaultReadTimeout
	}
	if c.Transport.DeviceAddress == "" {
		c.Transport.DeviceAddress = c.Transport.Address
	}
	if c.Parser.MaxBufferSize == 0 {
		c.Parser.MaxBufferSize = DefaultMaxReadingsPerPacket
	}
	if c.Processor.Workers == 0 {
		c.Processor.Workers = defaultWorkers
	}
	if c.Processor.QueueSize == 0 {
		c.Processor.QueueSize = defaultQueueSize
	}
	if c.Processor.AlertWindow == 0 {
		c.Processor.AlertWindow = FallRecencyWindow
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = defaultDatabasePath
	}
	if c.Cloud.FilterCapacity == 0 {
		c.Cloud.FilterCapacity = DefaultFilterCapacity
	}
	if c.Cloud.FilterProbability == 0 {
		c.Cloud.FilterProbability = DefaultFilterProbability
	}
	if c.Cloud.FilterResetUsage == 0 {
		c.Cloud.FilterResetUsage = DefaultFilterResetUsage
	}
	if c.Alerts.Topic == "" {
		c.Alerts.Topic = defaultAlertTopic
	}
	if c.Alerts.ClientID == "" {
		c.Alerts.ClientID = defaultAlertClientID
	}
	if c.Registry.FilePath == "" {
		c.Registry.FilePath = defaultRegistryPath
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddress
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// Validate reports the first setting that cannot be used.
func (c GatewayConfig) Validate() error {
	if c.Transport.Kind != TransportSerial && c.Transport.Kind != TransportTCP {
		return fmt.Errorf("%w: unknown transport kind %q", ErrValidation, c.Transport.Kind)
	}
	if c.Transport.Address == "" {
		return fmt.Errorf("%w: transport address is required", ErrValidation)
	}
	if c.Parser.MaxBufferSize <= 0 {
		return fmt.Errorf("%w: parser maxBufferSize must be positive", ErrValidation)
	}
	if c.Processor.Workers <= 0 || c.Processor.QueueSize <= 0 {
		return fmt.Errorf("%w: processor workers and queueSize must be positive", ErrValidation)
	}
	if c.Cloud.Enabled && c.Cloud.URL == "" {
		return fmt.Errorf("%w: cloud url is required when cloud sync is enabled", ErrValidation)
	}
	return nil
}
