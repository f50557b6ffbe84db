package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HSU_EMULATORS"

// settings come from HSU_EMULATORS_* variables; command line flags override them
type settings struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"console"`
	Config     string `envconfig:"CONFIG" default:"emulators.yaml"`
	LocatorDir string `envconfig:"LOCATOR_DIR"`
}

type globalOptions struct {
	LogLevel  string `long:"log-level" description:"Log level: debug, info, warn, error"`
	LogFormat string `long:"log-format" description:"Log format: console or json"`
	EnvFile   string `long:"env-file" description:"Dotenv file loaded into the environment before settings are read"`
}

var globals globalOptions

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	parser := flags.NewParser(&globals, flags.HelpFlag|flags.PassDoubleDash)

	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"start", "Run the emulator suite", "Starts the hub and every enabled emulator from the suite configuration, then waits for a signal.", &startCommand{}},
		{"apphosting", "Run the App Hosting dev server", "Negotiates a port, resolves apphosting.yaml/apphosting.local.yaml and runs the backend's dev server.", &appHostingCommand{}},
		{"env", "Print the App Hosting environment", "Prints the merged App Hosting environment variables in dotenv format.", &envCommand{}},
		{"status", "Show running emulators", "Reads the hub locator file and queries the hub for each emulator's serving status.", &statusCommand{}},
	}
	for _, command := range commands {
		if _, err := parser.AddCommand(command.name, command.short, command.long, command.data); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to register command %s: %v\n", command.name, err)
			os.Exit(1)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "emulators: %v\n", err)
		os.Exit(1)
	}
}

// setup loads settings and builds the zap-backed logger every command logs through
func setup() (settings, logging.Logger, func(), error) {
	var s settings

	if globals.EnvFile != "" {
		if err := godotenv.Load(globals.EnvFile); err != nil {
			return s, nil, nil, errors.NewIOError("failed to load env file", err).WithContext("path", globals.EnvFile)
		}
	}
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return s, nil, nil, errors.NewValidationError("invalid environment settings", err)
	}
	if globals.LogLevel != "" {
		s.LogLevel = globals.LogLevel
	}
	if globals.LogFormat != "" {
		s.LogFormat = globals.LogFormat
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = s.LogLevel
	zapConfig.Format = s.LogFormat
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		return s, nil, nil, err
	}

	logger := logging.NewLogger(logPrefix("hsu-emulators"), logging.FuncsOf(zapLogger))
	return s, logger, func() { _ = zapLogger.Sync() }, nil
}

// waitContext ends on SIGINT/SIGTERM or after runDuration seconds when positive
func waitContext(runDuration int, logger logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if runDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", runDuration)
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(runDuration)*time.Second)
		parentCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		defer signal.Stop(sig)
		select {
		case receivedSignal := <-sig:
			logger.Infof("Received signal: %v", receivedSignal)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
