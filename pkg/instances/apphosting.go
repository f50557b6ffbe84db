package instances

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/apphosting"
	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
)

// dev servers compile on first start
const DefaultAppHostingReadyTimeout = 2 * time.Minute

type AppHostingOptions struct {
	Serve       apphosting.ServeOptions
	Start       apphosting.StartOptions
	Readiness   monitoring.ReadinessConfig
	StopTimeout time.Duration
}

// AppHostingEmulator runs an App Hosting backend's dev server. Its port is
// negotiated at start, so it is registered directly rather than through a Server.
type AppHostingEmulator struct {
	options AppHostingOptions
	serve   *apphosting.Serve
	logger  logging.Logger

	result *apphosting.ServeResult
	cancel context.CancelFunc
	mutex  sync.Mutex
}

func NewAppHostingEmulator(options AppHostingOptions, logger logging.Logger) *AppHostingEmulator {
	if options.Serve.Host == "" {
		options.Serve.Host = apphosting.DefaultHost
	}
	if options.Serve.Port == 0 {
		options.Serve.Port = emulator.AppHosting.DefaultPort()
	}
	if options.Readiness.Timeout <= 0 {
		options.Readiness.Timeout = DefaultAppHostingReadyTimeout
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = DefaultStopTimeout
	}
	return &AppHostingEmulator{
		options: options,
		serve:   apphosting.NewServe(options.Serve, logger),
		logger:  logger,
	}
}

func (a *AppHostingEmulator) Name() emulator.Name {
	return emulator.AppHosting
}

// Info reports the negotiated port once started, the requested one before
func (a *AppHostingEmulator) Info() emulator.Info {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.result == nil {
		return emulator.Info{Name: emulator.AppHosting, Host: a.options.Serve.Host, Port: a.options.Serve.Port}
	}
	info := emulator.Info{Name: emulator.AppHosting, Host: a.result.Hostname, Port: a.result.Port}
	if a.result.Process != nil && a.result.Process.Running() {
		info.PID = a.result.Process.Pid()
	}
	return info
}

func (a *AppHostingEmulator) Result() *apphosting.ServeResult {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.result
}

func (a *AppHostingEmulator) Start(ctx context.Context) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.result != nil {
		return errors.NewConflictError("app hosting dev server already started", nil)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("app hosting start was cancelled", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	result, err := a.serve.Start(lifetime, a.options.Start)
	if err != nil {
		cancel()
		return err
	}

	a.result = result
	a.cancel = cancel
	a.logger.Infof("App Hosting dev server launched, address: http://%s:%d, command: '%s'", result.Hostname, result.Port, result.Command)
	return nil
}

// Connect waits until the dev server accepts connections on its port
func (a *AppHostingEmulator) Connect(ctx context.Context) error {
	result := a.Result()
	if result == nil {
		return errors.NewValidationError("app hosting dev server not started", nil)
	}

	readiness := a.options.Readiness
	if readiness.Type == "" {
		readiness.Type = monitoring.ReadinessTypeTCP
	}
	target := monitoring.Target{Host: result.Hostname, Port: result.Port}

	if result.Process == nil {
		return monitoring.WaitReady(ctx, readiness, target, a.logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan error, 1)
	go func() { ready <- monitoring.WaitReady(ctx, readiness, target, a.logger) }()

	select {
	case err := <-ready:
		return err
	case <-result.Process.Done():
		return errors.NewProcessError("dev server exited before becoming ready", result.Process.Wait()).
			WithContext("command", result.Command)
	}
}

func (a *AppHostingEmulator) Stop(ctx context.Context) error {
	a.mutex.Lock()
	result, cancel := a.result, a.cancel
	a.mutex.Unlock()

	if result == nil {
		return nil
	}
	defer cancel()

	if result.Process == nil {
		return nil
	}
	ctx, stopCancel := context.WithTimeout(ctx, a.options.StopTimeout)
	defer stopCancel()
	return result.Process.Stop(ctx)
}

// StartAppHosting starts inst and registers it. The registration is skipped and the
// dev server stopped when the name is already taken.
func StartAppHosting(ctx context.Context, inst *AppHostingEmulator, registry *emulator.Registry) error {
	if err := inst.Start(ctx); err != nil {
		return err
	}
	if err := registry.Start(ctx, inst); err != nil {
		if stopErr := inst.Stop(ctx); stopErr != nil {
			inst.logger.Warnf("Failed to stop dev server after registration failure, error: %v", stopErr)
		}
		return err
	}
	return nil
}

var (
	_ emulator.Instance = (*AppHostingEmulator)(nil)
	_ emulator.Starter  = (*AppHostingEmulator)(nil)
)
