package apphosting

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
	"github.com/core-tools/hsu-emulators/pkg/process"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5002
)

// Spawner launches the dev server. process.Spawn backs the default implementation.
type Spawner interface {
	SpawnWithCommandString(ctx context.Context, command, dir string, env map[string]string) (*process.Handle, error)
	WrapSpawn(ctx context.Context, executable string, args []string, dir string, env map[string]string) (*process.Handle, error)
}

type ServeOptions struct {
	Host            string
	Port            int
	MaxPortAttempts int

	// Cwd is the directory backend roots are resolved against; defaults to the process cwd
	Cwd string

	Stdio process.Stdio

	Negotiator *portutils.Negotiator
	Spawner    Spawner
	Loader     *ConfigLoader
}

type StartOptions struct {
	StartCommand  string
	RootDirectory string
}

type ServeResult struct {
	Hostname    string
	Port        int
	Command     string
	Directory   string
	Environment map[string]string
	Process     *process.Handle
}

// Serve runs an App Hosting backend's dev server on a negotiated port
type Serve struct {
	options ServeOptions
	logger  logging.Logger
}

func NewServe(options ServeOptions, logger logging.Logger) *Serve {
	if options.Host == "" {
		options.Host = DefaultHost
	}
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.Stdio == "" {
		options.Stdio = process.StdioInherit
	}
	if options.Negotiator == nil {
		options.Negotiator = &portutils.Negotiator{}
	}
	if options.MaxPortAttempts > 0 {
		negotiator := *options.Negotiator
		negotiator.MaxAttempts = options.MaxPortAttempts
		options.Negotiator = &negotiator
	}
	if options.Spawner == nil {
		options.Spawner = &processSpawner{name: "apphosting", stdio: options.Stdio, logger: logger}
	}
	if options.Loader == nil {
		options.Loader = NewConfigLoader(logger)
	}
	return &Serve{options: options, logger: logger}
}

// Start negotiates a port, resolves the backend environment and launches the dev server.
// It returns as soon as the child is running.
func (s *Serve) Start(ctx context.Context, opts StartOptions) (*ServeResult, error) {
	host := s.options.Host
	port, err := s.options.Negotiator.FindAvailablePort(host, s.options.Port)
	if err != nil {
		return nil, err
	}
	if port != s.options.Port {
		s.logger.Infof("Port %d is busy, using %d instead", s.options.Port, port)
	}

	cwd := s.options.Cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return nil, errors.NewIOError("failed to get working directory", err)
		}
	}
	rootDirectory := opts.RootDirectory
	if rootDirectory == "" {
		rootDirectory = "./"
	}

	config, err := s.options.Loader.GetLocalAppHostingConfiguration(cwd, rootDirectory)
	if err != nil {
		return nil, err
	}
	if len(config.Secrets) > 0 {
		s.logger.Debugf("Secrets are not resolved locally, skipped: %d", len(config.Secrets))
	}

	env := config.EnvironmentMap()
	env["PORT"] = strconv.Itoa(port)

	backendRoot := ResolveBackendRoot(cwd, rootDirectory)
	result := &ServeResult{
		Hostname:    host,
		Port:        port,
		Directory:   backendRoot,
		Environment: env,
	}

	if opts.StartCommand != "" {
		s.logger.Infof("Running custom start command: '%s'", opts.StartCommand)
		result.Command = opts.StartCommand
		result.Process, err = s.options.Spawner.SpawnWithCommandString(ctx, opts.StartCommand, backendRoot, env)
		if err != nil {
			return nil, spawnFailure(err, opts.StartCommand)
		}
		return result, nil
	}

	manager, err := DiscoverPackageManager(backendRoot)
	if err != nil {
		return nil, spawnFailure(err, "run dev")
	}

	result.Command = string(manager) + " run dev"
	s.logger.Infof("Starting app with: '%s'", result.Command)
	result.Process, err = s.options.Spawner.WrapSpawn(ctx, string(manager), []string{"run", "dev"}, backendRoot, env)
	if err != nil {
		return nil, spawnFailure(err, result.Command)
	}
	return result, nil
}

func spawnFailure(err error, command string) error {
	return errors.NewSpawnError(fmt.Sprintf("failed to start '%s'", command), err).
		WithContext("command", command)
}

type processSpawner struct {
	name   string
	stdio  process.Stdio
	logger logging.Logger
}

func (p *processSpawner) SpawnWithCommandString(ctx context.Context, command, dir string, env map[string]string) (*process.Handle, error) {
	return process.Spawn(ctx, process.SpawnConfig{
		Name:             p.name,
		CommandString:    command,
		WorkingDirectory: dir,
		Environment:      env,
		Stdio:            p.stdio,
	}, p.logger)
}

func (p *processSpawner) WrapSpawn(ctx context.Context, executable string, args []string, dir string, env map[string]string) (*process.Handle, error) {
	return process.Spawn(ctx, process.SpawnConfig{
		Name:             p.name,
		Executable:       executable,
		Args:             args,
		WorkingDirectory: dir,
		Environment:      env,
		Stdio:            p.stdio,
	}, p.logger)
}
