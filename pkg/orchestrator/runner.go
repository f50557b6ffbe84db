package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
)

type RunOptions struct {
	ConfigFile string

	// RunDuration stops the suite after this long; zero waits for a signal
	RunDuration time.Duration

	Only             []emulator.Name
	LocatorDirectory string
}

// Run loads the suite configuration, runs it until SIGINT/SIGTERM or the run
// duration elapses, and stops everything.
func Run(options RunOptions, logger logging.Logger) error {
	logger.Infof("Orchestrator starting...")
	logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)

	config, err := LoadConfigFromFile(options.ConfigFile)
	if err != nil {
		return err
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", options.ConfigFile)
	}

	logger.Infof("Configuration loaded successfully, project: '%s', emulators: %d", config.Project, len(config.Emulators))

	o, err := New(config, Options{Only: options.Only, LocatorDirectory: options.LocatorDirectory}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	go func() {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Orchestrator received signal: %v", receivedSignal)
			cancel()
		case <-ctx.Done():
		}
	}()

	err = o.Run(ctx)
	logger.Infof("Orchestrator stopped")
	return err
}
