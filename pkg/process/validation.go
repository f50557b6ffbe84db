package process

import (
	"fmt"
	"os"
	"strings"

	"github.com/core-tools/hsu-emulators/pkg/errors"
)

func ValidateSpawnConfig(config SpawnConfig) error {
	hasExecutable := strings.TrimSpace(config.Executable) != ""
	hasCommandString := strings.TrimSpace(config.CommandString) != ""

	if hasExecutable == hasCommandString {
		return errors.NewValidationError("exactly one of executable or command string must be set", nil).
			WithContext("command", config.Display())
	}

	if hasCommandString && commandWord(config.CommandString) == "" {
		return errors.NewValidationError("command string has no program to run", nil).
			WithContext("command", config.CommandString)
	}

	if config.WorkingDirectory != "" {
		info, err := os.Stat(config.WorkingDirectory)
		if err != nil {
			return errors.NewSpawnError("working directory is not accessible", err).
				WithContext("command", config.Display()).
				WithContext("working_directory", config.WorkingDirectory)
		}
		if !info.IsDir() {
			return errors.NewSpawnError(fmt.Sprintf("working directory is not a directory: %s", config.WorkingDirectory), nil).
				WithContext("command", config.Display())
		}
	}

	switch config.Stdio {
	case "", StdioInherit, StdioLog, StdioDiscard:
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown stdio mode: %s", config.Stdio), nil)
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}

	for key := range config.Environment {
		if key == "" || strings.Contains(key, "=") {
			return errors.NewValidationError(fmt.Sprintf("invalid environment variable name: '%s'", key), nil)
		}
	}

	return nil
}
