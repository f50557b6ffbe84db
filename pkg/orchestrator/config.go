package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/apphosting"
	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/instances"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
	"github.com/core-tools/hsu-emulators/pkg/process"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 10 * time.Second
)

// SuiteConfig represents the top-level emulators.yaml structure
type SuiteConfig struct {
	Project         string           `yaml:"project,omitempty"`
	LogLevel        string           `yaml:"log_level,omitempty"`
	MaxPortAttempts int              `yaml:"max_port_attempts,omitempty"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout,omitempty"`
	Hub             HubConfig        `yaml:"hub"`
	Emulators       []EmulatorConfig `yaml:"emulators"`
}

type HubConfig struct {
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	MetricsPort int    `yaml:"metrics_port,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
}

// EmulatorConfig is one emulator entry. Exactly one of Command or AppHosting is set.
type EmulatorConfig struct {
	Name    emulator.Name `yaml:"name"`
	Host    string        `yaml:"host,omitempty"`
	Port    int           `yaml:"port,omitempty"`
	Enabled *bool         `yaml:"enabled,omitempty"`

	Command    *process.SpawnConfig `yaml:"command,omitempty"`
	AppHosting *AppHostingUnit      `yaml:"apphosting,omitempty"`

	Readiness   monitoring.ReadinessConfig `yaml:"readiness,omitempty"`
	StopTimeout time.Duration              `yaml:"stop_timeout,omitempty"`
}

type AppHostingUnit struct {
	StartCommand  string        `yaml:"start_command,omitempty"`
	RootDirectory string        `yaml:"root_directory,omitempty"`
	Stdio         process.Stdio `yaml:"stdio,omitempty"`
}

func (c EmulatorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c HubConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadConfigFromFile loads the suite configuration from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*SuiteConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("configuration file not found", err).WithContext("filename", filename)
		}
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

func ParseConfig(data []byte) (*SuiteConfig, error) {
	var config SuiteConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewParseError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *SuiteConfig) {
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.MaxPortAttempts == 0 {
		config.MaxPortAttempts = portutils.DefaultMaxAttempts
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	if config.Hub.Host == "" {
		config.Hub.Host = emulator.DefaultHost
	}
	if config.Hub.Port == 0 {
		config.Hub.Port = emulator.Hub.DefaultPort()
	}
	if config.Hub.Enabled == nil {
		enabled := true
		config.Hub.Enabled = &enabled
	}

	for i := range config.Emulators {
		entry := &config.Emulators[i]

		if entry.Enabled == nil {
			enabled := true
			entry.Enabled = &enabled
		}
		if entry.Host == "" {
			entry.Host = emulator.DefaultHost
		}
		if entry.Port == 0 {
			entry.Port = entry.Name.DefaultPort()
		}
		if entry.StopTimeout == 0 {
			entry.StopTimeout = instances.DefaultStopTimeout
		}

		if entry.Readiness.Type == "" {
			entry.Readiness.Type = monitoring.ReadinessTypeTCP
		}
		if entry.Readiness.Timeout == 0 {
			if entry.AppHosting != nil {
				entry.Readiness.Timeout = instances.DefaultAppHostingReadyTimeout
			} else {
				entry.Readiness.Timeout = monitoring.DefaultReadinessTimeout
			}
		}
		if entry.Readiness.Interval == 0 {
			entry.Readiness.Interval = monitoring.DefaultReadinessInterval
		}

		if entry.Command != nil {
			if entry.Command.Name == "" {
				entry.Command.Name = string(entry.Name)
			}
			if entry.Command.Stdio == "" {
				entry.Command.Stdio = process.StdioLog
			}
		}
		if entry.AppHosting != nil && entry.AppHosting.Stdio == "" {
			entry.AppHosting.Stdio = process.StdioLog
		}
	}
}

// EnabledEmulators returns the enabled entries in file order, restricted to only when non-empty
func (c *SuiteConfig) EnabledEmulators(only []emulator.Name) []EmulatorConfig {
	allowed := make(map[emulator.Name]bool, len(only))
	for _, name := range only {
		allowed[name] = true
	}

	var result []EmulatorConfig
	for _, entry := range c.Emulators {
		if !entry.IsEnabled() {
			continue
		}
		if len(allowed) > 0 && !allowed[entry.Name] {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// CreateInstance builds the emulator instance an entry describes
func CreateInstance(config *SuiteConfig, entry EmulatorConfig, negotiator *portutils.Negotiator, logger logging.Logger) (emulator.Instance, error) {
	switch {
	case entry.AppHosting != nil:
		return instances.NewAppHostingEmulator(instances.AppHostingOptions{
			Serve: apphosting.ServeOptions{
				Host:            entry.Host,
				Port:            entry.Port,
				MaxPortAttempts: config.MaxPortAttempts,
				Stdio:           entry.AppHosting.Stdio,
				Negotiator:      negotiator,
			},
			Start: apphosting.StartOptions{
				StartCommand:  entry.AppHosting.StartCommand,
				RootDirectory: entry.AppHosting.RootDirectory,
			},
			Readiness:   entry.Readiness,
			StopTimeout: entry.StopTimeout,
		}, logger), nil

	case entry.Command != nil:
		return instances.NewCommandEmulator(instances.CommandOptions{
			Name:        entry.Name,
			Host:        entry.Host,
			Port:        entry.Port,
			Command:     *entry.Command,
			Readiness:   entry.Readiness,
			StopTimeout: entry.StopTimeout,
		}, logger), nil

	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("emulator %s has no unit configuration", entry.Name),
			nil,
		).WithContext("supported_units", "command, apphosting")
	}
}
