package hub

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/locator"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EmulatorStatus is one row of a hub status query
type EmulatorStatus struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

// QueryStatus asks the hub described by loc for the serving status of each emulator it advertises
func QueryStatus(ctx context.Context, loc *locator.Locator, timeout time.Duration) ([]EmulatorStatus, error) {
	if loc == nil {
		return nil, errors.NewValidationError("locator cannot be nil", nil)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	address := net.JoinHostPort(loc.Host, strconv.Itoa(loc.Port))
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.NewNetworkError("failed to create hub client", err).WithContext("address", address)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	statuses := make([]EmulatorStatus, 0, len(loc.Emulators))
	for _, entry := range loc.Emulators {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: entry.Name})
		cancel()

		status := EmulatorStatus{Name: entry.Name, Host: entry.Host, Port: entry.Port}
		if err != nil {
			if ctx.Err() != nil {
				return statuses, errors.NewCancelledError("status query cancelled", ctx.Err())
			}
			status.Status = "UNREACHABLE"
		} else {
			status.Status = resp.GetStatus().String()
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
