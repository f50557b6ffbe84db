package orchestrator

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
	"github.com/core-tools/hsu-emulators/pkg/process"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *SuiteConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.LogLevel != "" && !validLogLevels[config.LogLevel] {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}
	if config.MaxPortAttempts < 0 {
		return errors.NewValidationError("max_port_attempts cannot be negative", nil)
	}
	if config.ShutdownTimeout < 0 {
		return errors.NewValidationError("shutdown_timeout cannot be negative", nil)
	}

	addresses := make(map[string]string)

	if config.Hub.IsEnabled() {
		if err := portutils.ValidatePort(config.Hub.Port); err != nil {
			return errors.NewValidationError("invalid hub configuration", err)
		}
		if config.Hub.MetricsPort != 0 {
			if err := portutils.ValidatePort(config.Hub.MetricsPort); err != nil {
				return errors.NewValidationError("invalid hub metrics port", err)
			}
			addresses[address(config.Hub.Host, config.Hub.MetricsPort)] = "hub metrics"
		}
		addresses[address(config.Hub.Host, config.Hub.Port)] = string(emulator.Hub)
	}

	if err := validateEmulatorsConfig(config.Emulators, addresses); err != nil {
		return errors.NewValidationError("invalid emulators configuration", err)
	}

	return nil
}

func validateEmulatorsConfig(entries []EmulatorConfig, addresses map[string]string) error {
	seen := make(map[emulator.Name]int)
	for i, entry := range entries {
		if err := validateEmulatorEntry(entry); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid emulator at index %d", i),
				err,
			).WithContext("emulator", string(entry.Name))
		}

		if prevIndex, exists := seen[entry.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate emulator '%s' found at indices %d and %d", entry.Name, prevIndex, i),
				nil,
			)
		}
		seen[entry.Name] = i

		// the apphosting port is negotiated at start
		if entry.AppHosting != nil || !entry.IsEnabled() {
			continue
		}
		key := address(entry.Host, entry.Port)
		if owner, exists := addresses[key]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("emulator '%s' and '%s' both use %s", owner, entry.Name, key),
				nil,
			)
		}
		addresses[key] = string(entry.Name)
	}

	return nil
}

func validateEmulatorEntry(entry EmulatorConfig) error {
	if !entry.Name.Valid() {
		return errors.NewValidationError(
			fmt.Sprintf("unknown emulator name: %s", entry.Name),
			nil,
		).WithContext("emulator", string(entry.Name))
	}
	if entry.Name == emulator.Hub {
		return errors.NewValidationError("the hub is configured under 'hub', not as an emulator entry", nil)
	}

	if err := portutils.ValidatePort(entry.Port); err != nil {
		return err
	}
	if entry.StopTimeout < 0 {
		return errors.NewValidationError("stop_timeout cannot be negative", nil)
	}
	if err := monitoring.ValidateReadinessConfig(entry.Readiness); err != nil {
		return err
	}

	return validateEmulatorUnit(entry)
}

func validateEmulatorUnit(entry EmulatorConfig) error {
	switch {
	case entry.Command != nil && entry.AppHosting != nil:
		return errors.NewValidationError("only one of command or apphosting may be specified", nil)

	case entry.AppHosting != nil:
		if entry.Name != emulator.AppHosting {
			return errors.NewValidationError("apphosting unit is only valid for the apphosting emulator", nil)
		}
		return nil

	case entry.Command != nil:
		if entry.Name == emulator.AppHosting {
			return errors.NewValidationError("the apphosting emulator requires an apphosting unit", nil)
		}
		return process.ValidateSpawnConfig(*entry.Command)

	default:
		return errors.NewValidationError("one of command or apphosting is required", nil).
			WithContext("supported_units", "command, apphosting")
	}
}

// ValidateConfigFile loads and validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
