package main

import (
	"context"

	"github.com/core-tools/hsu-emulators/pkg/apphosting"
	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/instances"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/process"
)

type appHostingCommand struct {
	StartCommand    string `long:"start-command" description:"Command that starts the dev server; defaults to '<package manager> run dev'"`
	RootDirectory   string `long:"root-directory" description:"Backend root relative to the working directory" default:"./"`
	Host            string `long:"host" description:"Host to bind" default:"127.0.0.1"`
	Port            int    `long:"port" description:"First port to try" default:"5002"`
	MaxPortAttempts int    `long:"max-port-attempts" description:"Ports to probe before giving up" default:"100"`
	RunDuration     int    `long:"run-duration" description:"Duration in seconds to run the dev server (debug feature)"`
}

func (c *appHostingCommand) Execute(args []string) error {
	_, logger, sync, err := setup()
	if err != nil {
		return err
	}
	defer sync()

	logger = logging.ForEmulator(logger, string(emulator.AppHosting))
	inst := instances.NewAppHostingEmulator(instances.AppHostingOptions{
		Serve: apphosting.ServeOptions{
			Host:            c.Host,
			Port:            c.Port,
			MaxPortAttempts: c.MaxPortAttempts,
			Stdio:           process.StdioInherit,
		},
		Start: apphosting.StartOptions{
			StartCommand:  c.StartCommand,
			RootDirectory: c.RootDirectory,
		},
	}, logger)

	ctx, cancel := waitContext(c.RunDuration, logger)
	defer cancel()

	registry := emulator.NewRegistry(logger)
	if err := instances.StartAppHosting(ctx, inst, registry); err != nil {
		return err
	}
	defer func() {
		if err := registry.StopAll(context.Background()); err != nil {
			logger.Errorf("Failed to stop dev server: %v", err)
		}
	}()

	result := inst.Result()
	if err := inst.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			return err
		}
	} else {
		logger.Infof("App Hosting emulator ready at http://%s:%d", result.Hostname, result.Port)
	}

	select {
	case <-ctx.Done():
	case <-result.Process.Done():
		if err := result.Process.Wait(); err != nil {
			return err
		}
		logger.Infof("Dev server exited")
	}
	return nil
}
