package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"

	"github.com/hashicorp/go-retryablehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type ReadinessType string

const (
	ReadinessTypeTCP  ReadinessType = "tcp"
	ReadinessTypeGRPC ReadinessType = "grpc"
	ReadinessTypeHTTP ReadinessType = "http"
)

const (
	DefaultReadinessTimeout  = 30 * time.Second
	DefaultReadinessInterval = 200 * time.Millisecond
)

type ReadinessConfig struct {
	Type ReadinessType `yaml:"type"`

	// HTTP: URL to GET; defaults to http://host:port/
	URL string `yaml:"url,omitempty"`

	// gRPC: health service name, empty for the whole server
	Service string `yaml:"service,omitempty"`

	// Timeout bounds the whole wait, Interval the pause between attempts
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Target is the endpoint a probe checks
type Target struct {
	Host string
	Port int
}

func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Probe performs a single readiness check
type Probe interface {
	Check(ctx context.Context) (bool, string)
	Close() error
}

// NewProbe builds the probe for config.Type; an empty type means tcp
func NewProbe(config ReadinessConfig, target Target, logger logging.Logger) (Probe, error) {
	if config.Type == "" {
		config.Type = ReadinessTypeTCP
	}
	if err := ValidateReadinessConfig(config); err != nil {
		return nil, err
	}

	interval := config.Interval
	if interval <= 0 {
		interval = DefaultReadinessInterval
	}

	switch config.Type {
	case ReadinessTypeTCP:
		return &tcpProbe{address: target.Address(), timeout: interval}, nil
	case ReadinessTypeGRPC:
		return newGRPCProbe(target.Address(), config.Service)
	case ReadinessTypeHTTP:
		url := config.URL
		if url == "" {
			url = "http://" + target.Address() + "/"
		}
		return newHTTPProbe(url, interval, logger), nil
	default:
		return nil, errors.NewValidationError("unsupported readiness type: "+string(config.Type), nil)
	}
}

// WaitReady polls the probe until it passes or the timeout ends
func WaitReady(ctx context.Context, config ReadinessConfig, target Target, logger logging.Logger) error {
	probe, err := NewProbe(config, target, logger)
	if err != nil {
		return err
	}
	defer probe.Close()

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultReadinessTimeout
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultReadinessInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		ready, message := probe.Check(ctx)
		if ready {
			logger.Debugf("Readiness check passed, target: %s, attempts: %d, message: %s", target.Address(), attempts, message)
			return nil
		}
		logger.Debugf("Readiness check pending, target: %s, attempt: %d, message: %s", target.Address(), attempts, message)

		select {
		case <-ctx.Done():
			return errors.NewTimeoutError(fmt.Sprintf("emulator not ready after %v: %s", timeout, message), ctx.Err()).
				WithContext("address", target.Address()).
				WithContext("type", string(config.Type)).
				WithContext("attempts", attempts)
		case <-ticker.C:
		}
	}
}

type tcpProbe struct {
	address string
	timeout time.Duration
}

func (p *tcpProbe) Check(ctx context.Context) (bool, string) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return true, fmt.Sprintf("TCP connection successful to %s", p.address)
}

func (p *tcpProbe) Close() error {
	return nil
}

type grpcProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	address string
}

func newGRPCProbe(address, service string) (*grpcProbe, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.NewNetworkError("failed to create gRPC client", err).WithContext("address", address)
	}
	return &grpcProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		address: address,
	}, nil
}

func (p *grpcProbe) Check(ctx context.Context) (bool, string) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false, fmt.Sprintf("gRPC health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Sprintf("gRPC health status: %s", resp.GetStatus())
	}
	return true, fmt.Sprintf("gRPC service '%s' serving at %s", p.service, p.address)
}

func (p *grpcProbe) Close() error {
	return p.conn.Close()
}

type httpProbe struct {
	client *retryablehttp.Client
	url    string
}

func newHTTPProbe(url string, timeout time.Duration, logger logging.Logger) *httpProbe {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = timeout / 4
	client.RetryWaitMax = timeout
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debugf("Retrying readiness request, url: %s, attempt: %d", req.URL, attempt)
		}
	}
	return &httpProbe{client: client, url: url}
}

func (p *httpProbe) Check(ctx context.Context) (bool, string) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, fmt.Sprintf("Failed to create HTTP request: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	// any response below 500 means the server is up and routing
	if resp.StatusCode < 500 {
		return true, fmt.Sprintf("HTTP readiness check passed: %s", resp.Status)
	}
	return false, fmt.Sprintf("HTTP readiness check failed: %s", resp.Status)
}

func (p *httpProbe) Close() error {
	p.client.HTTPClient.CloseIdleConnections()
	return nil
}
