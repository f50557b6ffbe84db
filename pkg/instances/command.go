package instances

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
	"github.com/core-tools/hsu-emulators/pkg/process"
)

const DefaultStopTimeout = 10 * time.Second

type CommandOptions struct {
	Name emulator.Name
	Host string
	Port int

	// Command launches the emulator binary. HOST and PORT are added to its environment.
	Command process.SpawnConfig

	Readiness   monitoring.ReadinessConfig
	StopTimeout time.Duration
}

// CommandEmulator runs an external emulator binary as a child process
type CommandEmulator struct {
	options CommandOptions
	logger  logging.Logger

	handle *process.Handle
	cancel context.CancelFunc
	mutex  sync.Mutex
}

func NewCommandEmulator(options CommandOptions, logger logging.Logger) *CommandEmulator {
	if options.Host == "" {
		options.Host = emulator.DefaultHost
	}
	if options.Port == 0 {
		options.Port = options.Name.DefaultPort()
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = DefaultStopTimeout
	}
	if options.Command.Name == "" {
		options.Command.Name = string(options.Name)
	}
	if options.Command.Stdio == "" {
		options.Command.Stdio = process.StdioLog
	}
	return &CommandEmulator{options: options, logger: logger}
}

func (c *CommandEmulator) Name() emulator.Name {
	return c.options.Name
}

func (c *CommandEmulator) Info() emulator.Info {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	info := emulator.Info{Name: c.options.Name, Host: c.options.Host, Port: c.options.Port}
	if c.handle != nil && c.handle.Running() {
		info.PID = c.handle.Pid()
	}
	return info
}

// Start launches the child. Its lifetime is independent of ctx.
func (c *CommandEmulator) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.handle != nil {
		return errors.NewConflictError("emulator process already started", nil).WithContext("emulator", string(c.options.Name))
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("emulator start was cancelled", err).WithContext("emulator", string(c.options.Name))
	}

	config := c.options.Command
	env := make(map[string]string, len(config.Environment)+2)
	for key, value := range config.Environment {
		env[key] = value
	}
	env["HOST"] = c.options.Host
	env["PORT"] = strconv.Itoa(c.options.Port)
	config.Environment = env

	lifetime, cancel := context.WithCancel(context.Background())
	handle, err := process.Spawn(lifetime, config, c.logger)
	if err != nil {
		cancel()
		return err
	}

	c.handle = handle
	c.cancel = cancel
	return nil
}

// Connect waits for the readiness probe, failing early if the process exits
func (c *CommandEmulator) Connect(ctx context.Context) error {
	c.mutex.Lock()
	handle := c.handle
	c.mutex.Unlock()

	if handle == nil {
		return errors.NewValidationError("emulator process not started", nil).WithContext("emulator", string(c.options.Name))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan error, 1)
	go func() {
		ready <- monitoring.WaitReady(ctx, c.options.Readiness,
			monitoring.Target{Host: c.options.Host, Port: c.options.Port}, c.logger)
	}()

	select {
	case err := <-ready:
		return err
	case <-handle.Done():
		return errors.NewProcessError("emulator process exited before becoming ready", handle.Wait()).
			WithContext("emulator", string(c.options.Name)).
			WithContext("command", handle.Command())
	}
}

func (c *CommandEmulator) Stop(ctx context.Context) error {
	c.mutex.Lock()
	handle, cancel := c.handle, c.cancel
	c.mutex.Unlock()

	if handle == nil {
		return nil
	}
	defer cancel()

	ctx, stopCancel := context.WithTimeout(ctx, c.options.StopTimeout)
	defer stopCancel()
	return handle.Stop(ctx)
}

var (
	_ emulator.Instance = (*CommandEmulator)(nil)
	_ emulator.Starter  = (*CommandEmulator)(nil)
)
