package hub

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/locator"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/metrics"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Options struct {
	Project string
	Host    string
	Port    int

	// MetricsPort serves /metrics when non-zero and Metrics is set
	MetricsPort int

	// RunID identifies this orchestrator run; generated when empty
	RunID string

	ShutdownTimeout time.Duration
}

// Hub is the emulator that advertises the rest of the suite. It serves the gRPC
// health protocol with one service per emulator name and keeps a locator file
// current so other processes can find it.
type Hub struct {
	options  Options
	registry *emulator.Registry
	locators *locator.Manager
	metrics  *metrics.Metrics
	logger   logging.Logger

	health     *health.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	startedAt  time.Time
	running    bool
	mutex      sync.Mutex
}

// New creates a hub. metrics may be nil.
func New(options Options, registry *emulator.Registry, locators *locator.Manager, m *metrics.Metrics, logger logging.Logger) *Hub {
	if options.Host == "" {
		options.Host = emulator.DefaultHost
	}
	if options.Port == 0 {
		options.Port = emulator.Hub.DefaultPort()
	}
	if options.RunID == "" {
		options.RunID = uuid.NewString()
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}

	return &Hub{
		options:  options,
		registry: registry,
		locators: locators,
		metrics:  m,
		logger:   logger,
		health:   health.NewServer(),
	}
}

func (h *Hub) Name() emulator.Name {
	return emulator.Hub
}

func (h *Hub) Info() emulator.Info {
	return emulator.Info{Name: emulator.Hub, Host: h.options.Host, Port: h.options.Port}
}

func (h *Hub) RunID() string {
	return h.options.RunID
}

// Start begins serving. It runs after the port was verified free.
func (h *Hub) Start(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.running {
		return errors.NewConflictError("hub is already running", nil)
	}

	address := net.JoinHostPort(h.options.Host, strconv.Itoa(h.options.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewNetworkError("failed to listen for hub", err).WithContext("address", address)
	}

	h.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(h.grpcServer, h.health)
	reflection.Register(h.grpcServer)

	go func() {
		if err := h.grpcServer.Serve(listener); err != nil {
			h.logger.Errorf("Hub gRPC server stopped with error: %v", err)
		}
	}()

	if h.metrics != nil && h.options.MetricsPort != 0 {
		if err := h.startMetrics(); err != nil {
			h.grpcServer.Stop()
			return err
		}
	}

	h.startedAt = time.Now()
	h.running = true
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(string(emulator.Hub), healthpb.HealthCheckResponse_SERVING)

	if err := h.writeLocatorLocked(); err != nil {
		h.logger.Warnf("Failed to write hub locator, error: %v", err)
	}

	h.logger.Infof("Hub started, address: %s, project: %s, run id: %s", address, h.options.Project, h.options.RunID)
	return nil
}

func (h *Hub) startMetrics() error {
	address := net.JoinHostPort(h.options.Host, strconv.Itoa(h.options.MetricsPort))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewNetworkError("failed to listen for metrics", err).WithContext("address", address)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h.metrics.Handler())
	h.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := h.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Errorf("Metrics server stopped with error: %v", err)
		}
	}()
	h.logger.Infof("Metrics endpoint listening, address: http://%s/metrics", address)
	return nil
}

// Connect waits until the hub answers health checks
func (h *Hub) Connect(ctx context.Context) error {
	return monitoring.WaitReady(ctx, monitoring.ReadinessConfig{
		Type:    monitoring.ReadinessTypeGRPC,
		Timeout: 5 * time.Second,
	}, monitoring.Target{Host: h.options.Host, Port: h.options.Port}, h.logger)
}

func (h *Hub) Stop(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	h.health.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, h.options.ShutdownTimeout)
	defer cancel()

	errs := errors.NewErrorCollection()
	if h.httpServer != nil {
		if err := h.httpServer.Shutdown(ctx); err != nil {
			errs.Add(errors.NewNetworkError("failed to stop metrics server", err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		h.logger.Warnf("Hub graceful stop timed out, forcing")
		h.grpcServer.Stop()
	}

	if h.locators != nil {
		errs.Add(h.locators.Remove(h.options.Project))
	}

	h.logger.Infof("Hub stopped, uptime: %s", time.Since(h.startedAt).Round(time.Millisecond))
	return errs.ToError()
}

// EmulatorRegistered marks the emulator as serving and republishes the locator
func (h *Hub) EmulatorRegistered(info emulator.Info) {
	h.health.SetServingStatus(string(info.Name), healthpb.HealthCheckResponse_SERVING)
	h.refreshLocator()
}

// EmulatorDeregistered marks the emulator as not serving and republishes the locator
func (h *Hub) EmulatorDeregistered(info emulator.Info, stopErr error) {
	h.health.SetServingStatus(string(info.Name), healthpb.HealthCheckResponse_NOT_SERVING)
	h.refreshLocator()
}

func (h *Hub) refreshLocator() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.running {
		return
	}
	if err := h.writeLocatorLocked(); err != nil {
		h.logger.Warnf("Failed to refresh hub locator, error: %v", err)
	}
}

func (h *Hub) writeLocatorLocked() error {
	if h.locators == nil {
		return nil
	}

	var entries []locator.EmulatorEntry
	if h.registry != nil {
		for _, info := range h.registry.List() {
			entries = append(entries, locator.EmulatorEntry{
				Name: string(info.Name),
				Host: info.Host,
				Port: info.Port,
				PID:  info.PID,
			})
		}
	}

	return h.locators.Write(locator.Locator{
		RunID:       h.options.RunID,
		Project:     h.options.Project,
		Host:        h.options.Host,
		Port:        h.options.Port,
		MetricsPort: h.options.MetricsPort,
		PID:         os.Getpid(),
		StartedAt:   h.startedAt,
		Emulators:   entries,
	})
}

var (
	_ emulator.Instance = (*Hub)(nil)
	_ emulator.Starter  = (*Hub)(nil)
	_ emulator.Observer = (*Hub)(nil)
)
