package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/core-tools/hsu-emulators/pkg/apphosting"
	"github.com/core-tools/hsu-emulators/pkg/errors"

	"github.com/joho/godotenv"
)

type envCommand struct {
	RootDirectory string `long:"root-directory" description:"Backend root relative to the working directory" default:"./"`
	Port          int    `long:"port" description:"Include PORT with this value"`
}

func (c *envCommand) Execute(args []string) error {
	_, logger, sync, err := setup()
	if err != nil {
		return err
	}
	defer sync()

	cwd, err := os.Getwd()
	if err != nil {
		return errors.NewIOError("failed to get working directory", err)
	}

	config, err := apphosting.NewConfigLoader(logger).GetLocalAppHostingConfiguration(cwd, c.RootDirectory)
	if err != nil {
		return err
	}

	out, err := renderEnv(config, c.Port)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// renderEnv formats the environment variables (and PORT when port > 0) as dotenv lines
func renderEnv(config *apphosting.AppHostingYamlConfig, port int) (string, error) {
	env := config.EnvironmentMap()
	if port > 0 {
		env["PORT"] = strconv.Itoa(port)
	}
	out, err := godotenv.Marshal(env)
	if err != nil {
		return "", errors.NewInternalError("failed to render environment", err)
	}
	return out, nil
}
