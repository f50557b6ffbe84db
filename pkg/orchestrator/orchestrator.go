package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/hub"
	"github.com/core-tools/hsu-emulators/pkg/instances"
	"github.com/core-tools/hsu-emulators/pkg/locator"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/metrics"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
)

type Options struct {
	// Only restricts the run to these emulator names; empty runs every enabled entry
	Only []emulator.Name

	// LocatorDirectory overrides the OS-specific hub locator directory
	LocatorDirectory string
}

// Orchestrator owns the registry and brings the configured suite up and down
type Orchestrator struct {
	config     *SuiteConfig
	options    Options
	logger     logging.Logger
	registry   *emulator.Registry
	metrics    *metrics.Metrics
	negotiator *portutils.Negotiator
	locators   *locator.Manager
	hub        *hub.Hub
}

func New(config *SuiteConfig, options Options, logger logging.Logger) (*Orchestrator, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	for _, name := range options.Only {
		if !name.Valid() {
			return nil, errors.NewValidationError(fmt.Sprintf("unknown emulator name: %s", name), nil)
		}
	}

	m := metrics.New()
	o := &Orchestrator{
		config:     config,
		options:    options,
		logger:     logger,
		registry:   emulator.NewRegistry(logger, m),
		metrics:    m,
		negotiator: &portutils.Negotiator{MaxAttempts: config.MaxPortAttempts, Observer: m},
		locators:   locator.NewManager(locator.Config{BaseDirectory: options.LocatorDirectory}, logger),
	}

	if config.Hub.IsEnabled() {
		o.hub = hub.New(hub.Options{
			Project:         config.Project,
			Host:            config.Hub.Host,
			Port:            config.Hub.Port,
			MetricsPort:     config.Hub.MetricsPort,
			ShutdownTimeout: config.ShutdownTimeout,
		}, o.registry, o.locators, m, logging.ForEmulator(logger, string(emulator.Hub)))
		o.registry.AddObserver(o.hub)
	}

	return o, nil
}

func (o *Orchestrator) Registry() *emulator.Registry {
	return o.registry
}

func (o *Orchestrator) Locators() *locator.Manager {
	return o.locators
}

// Start brings up the hub and then every selected emulator in file order.
// A failed emulator is logged and skipped; its error is included in the result.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.hub != nil {
		if err := o.startThroughServer(ctx, o.hub); err != nil {
			return errors.NewInternalError("failed to start the emulator hub", err)
		}
		o.logger.Infof("Emulator hub running on %s:%d, run id: %s", o.config.Hub.Host, o.config.Hub.Port, o.hub.RunID())
	}

	failures := errors.NewErrorCollection()
	for _, entry := range o.config.EnabledEmulators(o.options.Only) {
		if err := ctx.Err(); err != nil {
			failures.Add(errors.NewCancelledError("startup interrupted", err))
			break
		}

		if err := o.startEmulator(ctx, entry); err != nil {
			o.logger.Errorf("Failed to start emulator %s: %v", entry.Name, err)
			failures.Add(err)
			continue
		}

		if inst, ok := o.registry.Get(entry.Name); ok {
			info := inst.Info()
			o.logger.Infof("%s running on %s:%d", entry.Name.Description(), info.Host, info.Port)
		}
	}

	return failures.ToError()
}

func (o *Orchestrator) startEmulator(ctx context.Context, entry EmulatorConfig) error {
	logger := logging.ForEmulator(o.logger, string(entry.Name))
	inst, err := CreateInstance(o.config, entry, o.negotiator, logger)
	if err != nil {
		return err
	}

	if appHosting, ok := inst.(*instances.AppHostingEmulator); ok {
		if err := instances.StartAppHosting(ctx, appHosting, o.registry); err != nil {
			return err
		}
		if err := appHosting.Connect(ctx); err != nil {
			o.stopAfterFailedConnect(ctx, entry.Name)
			return err
		}
		return nil
	}

	return o.startThroughServer(ctx, inst)
}

func (o *Orchestrator) startThroughServer(ctx context.Context, inst emulator.Instance) error {
	server := emulator.NewServer(inst, o.registry, logging.ForEmulator(o.logger, string(inst.Name()))).
		WithNegotiator(o.negotiator)

	if err := server.Start(ctx); err != nil {
		return err
	}
	if err := server.Connect(ctx); err != nil {
		o.stopAfterFailedConnect(ctx, inst.Name())
		return err
	}
	return nil
}

func (o *Orchestrator) stopAfterFailedConnect(ctx context.Context, name emulator.Name) {
	if err := o.registry.Stop(context.WithoutCancel(ctx), name); err != nil && !errors.IsConflictError(err) {
		o.logger.Warnf("Failed to stop emulator %s after connect failure: %v", name, err)
	}
}

// Stop stops every emulator, then the hub
func (o *Orchestrator) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.ShutdownTimeout+instances.DefaultStopTimeout)
	defer cancel()

	errs := errors.NewErrorCollection()
	if err := o.registry.StopAll(ctx, emulator.Hub); err != nil {
		errs.Add(err)
	}
	if o.hub != nil && o.registry.IsRunning(emulator.Hub) {
		if err := o.registry.Stop(ctx, emulator.Hub); err != nil {
			errs.Add(err)
		}
	}
	return errs.ToError()
}

// Run starts the suite and blocks until ctx ends, then stops it.
// Startup runs in the background so that a signal during a slow start still shuts down.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := make(chan error, 1)
	go func() {
		started <- o.Start(ctx)
	}()

	var startErr error
	select {
	case startErr = <-started:
		if startErr != nil && o.hub != nil && !o.registry.IsRunning(emulator.Hub) {
			o.logger.Errorf("Orchestrator failed to start: %v", startErr)
			if stopErr := o.Stop(context.Background()); stopErr != nil {
				o.logger.Warnf("Stop after failed start reported errors: %v", stopErr)
			}
			return startErr
		}
		if startErr != nil {
			o.logger.Warnf("Some emulators failed to start: %v", startErr)
		}
		o.logger.Infof("All emulators started, orchestrator is fully operational")
		<-ctx.Done()
	case <-ctx.Done():
		o.logger.Infof("Waiting for emulators start to finish...")
		startErr = <-started
	}

	o.logger.Infof("Stopping emulators...")
	stopStarted := time.Now()
	if err := o.Stop(context.Background()); err != nil {
		o.logger.Errorf("Orchestrator stop reported errors: %v", err)
		return err
	}
	o.logger.Infof("All emulators stopped, took: %v", time.Since(stopStarted))
	return nil
}

func (o *Orchestrator) Metrics() *metrics.Metrics {
	return o.metrics
}
