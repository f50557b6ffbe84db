package portutils

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"

	"github.com/phayes/freeport"
)

const (
	// DefaultMaxAttempts bounds FindAvailablePort when no explicit limit is given
	DefaultMaxAttempts = 100

	MaxPort = 65535
)

type Family string

const (
	FamilyIPv4 Family = "IPv4"
	FamilyIPv6 Family = "IPv6"
)

// Candidate is one host/port/family combination under test
type Candidate struct {
	Host   string
	Port   int
	Family Family
}

func (c Candidate) network() string {
	if c.Family == FamilyIPv4 {
		return "tcp4"
	}
	return "tcp6"
}

func (c Candidate) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FamilyForHost infers the address family: dotted-quad hosts are IPv4, everything else IPv6
func FamilyForHost(host string) Family {
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil && !strings.Contains(host, ":") {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// ProbeObserver is notified of every listenability probe
type ProbeObserver interface {
	PortProbed(candidate Candidate, listenable bool)
}

// Negotiator probes ports. The zero value is usable.
type Negotiator struct {
	MaxAttempts int
	Observer    ProbeObserver
}

var defaultNegotiator = &Negotiator{}

// IsListenable binds host:port for the candidate family and releases it immediately.
// Address-in-use maps to false with no error; any other bind failure is returned.
func (n *Negotiator) IsListenable(c Candidate) (bool, error) {
	if err := ValidatePort(c.Port); err != nil {
		return false, err
	}
	if c.Family == "" {
		c.Family = FamilyForHost(c.Host)
	}

	listener, err := net.Listen(c.network(), c.Address())
	if err != nil {
		if isAddrInUse(err) {
			n.observe(c, false)
			return false, nil
		}
		return false, errors.NewNetworkError("failed to probe port", err).
			WithContext("host", c.Host).
			WithContext("port", c.Port).
			WithContext("family", string(c.Family))
	}
	if err := listener.Close(); err != nil {
		return false, errors.NewNetworkError("failed to release probe listener", err).
			WithContext("host", c.Host).
			WithContext("port", c.Port)
	}

	n.observe(c, true)
	return true, nil
}

// CheckPortOpen reports whether port is free on host, inferring the family from host
func (n *Negotiator) CheckPortOpen(host string, port int) (bool, error) {
	return n.IsListenable(Candidate{Host: host, Port: port, Family: FamilyForHost(host)})
}

// FindAvailablePort returns the first listenable port at or above startPort.
// The search stops after MaxAttempts probes or at MaxPort.
func (n *Negotiator) FindAvailablePort(host string, startPort int) (int, error) {
	if err := ValidatePort(startPort); err != nil {
		return 0, err
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	attempts := 0
	for port := startPort; port <= MaxPort && attempts < maxAttempts; port++ {
		attempts++
		open, err := n.CheckPortOpen(host, port)
		if err != nil {
			return 0, err
		}
		if open {
			return port, nil
		}
	}

	return 0, errors.NewNoFreePortError(
		fmt.Sprintf("no free port found on %s starting at %d after %d attempts", host, startPort, attempts),
		nil,
	).WithContext("host", host).WithContext("start_port", startPort).WithContext("attempts", attempts)
}

func (n *Negotiator) observe(c Candidate, listenable bool) {
	if n.Observer != nil {
		n.Observer.PortProbed(c, listenable)
	}
}

func IsListenable(c Candidate) (bool, error) {
	return defaultNegotiator.IsListenable(c)
}

func CheckPortOpen(host string, port int) (bool, error) {
	return defaultNegotiator.CheckPortOpen(host, port)
}

func FindAvailablePort(host string, startPort int) (int, error) {
	return defaultNegotiator.FindAvailablePort(host, startPort)
}

// WaitForPortUsed polls until something accepts TCP connections on host:port
func WaitForPortUsed(ctx context.Context, host string, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: interval}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.NewTimeoutError("port never came into use", ctx.Err()).
				WithContext("host", host).
				WithContext("port", port)
		case <-ticker.C:
		}
	}
}

// EphemeralPort asks the OS for a currently unused port
func EphemeralPort() (int, error) {
	port, err := freeport.GetFreePort()
	if err != nil {
		return 0, errors.NewNetworkError("failed to obtain ephemeral port", err)
	}
	return port, nil
}

func ValidatePort(port int) error {
	if port <= 0 || port > MaxPort {
		return errors.NewValidationError(fmt.Sprintf("port must be between 1 and %d, got %d", MaxPort, port), nil)
	}
	return nil
}
