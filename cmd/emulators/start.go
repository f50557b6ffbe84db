package main

import (
	"strings"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/orchestrator"
)

type startCommand struct {
	Config      string `long:"config" short:"c" description:"Suite configuration file (default: $HSU_EMULATORS_CONFIG or emulators.yaml)"`
	Only        string `long:"only" description:"Comma-separated emulator names to start"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the suite (debug feature)"`
}

func (c *startCommand) Execute(args []string) error {
	s, logger, sync, err := setup()
	if err != nil {
		return err
	}
	defer sync()

	configFile := c.Config
	if configFile == "" {
		configFile = s.Config
	}

	return orchestrator.Run(orchestrator.RunOptions{
		ConfigFile:       configFile,
		RunDuration:      time.Duration(c.RunDuration) * time.Second,
		Only:             parseNames(c.Only),
		LocatorDirectory: s.LocatorDir,
	}, logger)
}

func parseNames(list string) []emulator.Name {
	var names []emulator.Name
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, emulator.Name(part))
		}
	}
	return names
}
