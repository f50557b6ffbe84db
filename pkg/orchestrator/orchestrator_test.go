package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
	"github.com/core-tools/hsu-emulators/pkg/process"

	"github.com/phayes/freeport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperModeEnv = "HSU_HELPER_MODE"

// TestHelperProcess stands in for an emulator binary when the mode variable is set
func TestHelperProcess(t *testing.T) {
	switch os.Getenv(helperModeEnv) {
	case "":
		return
	case "exit":
		os.Exit(1)
	case "listen":
		listener, err := net.Listen("tcp", net.JoinHostPort(os.Getenv("HOST"), os.Getenv("PORT")))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		for {
			conn, err := listener.Accept()
			if err != nil {
				os.Exit(0)
			}
			conn.Close()
		}
	}
}

func helperEntry(name emulator.Name, port int, mode string) EmulatorConfig {
	return EmulatorConfig{
		Name: name,
		Port: port,
		Command: &process.SpawnConfig{
			Executable:  os.Args[0],
			Args:        []string{"-test.run=^TestHelperProcess$"},
			Environment: map[string]string{helperModeEnv: mode},
		},
		Readiness: monitoring.ReadinessConfig{Timeout: 10 * time.Second, Interval: 50 * time.Millisecond},
	}
}

func newTestOrchestrator(t *testing.T, entries ...EmulatorConfig) (*Orchestrator, *SuiteConfig) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process group signalling differs on windows")
	}

	hubPort, err := freeport.GetFreePort()
	require.NoError(t, err)

	config := &SuiteConfig{
		Project:         "orchestrator-test",
		ShutdownTimeout: 2 * time.Second,
		Hub:             HubConfig{Port: hubPort},
		Emulators:       entries,
	}
	setConfigDefaults(config)

	o, err := New(config, Options{LocatorDirectory: t.TempDir()}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { o.Stop(context.Background()) })
	return o, config
}

func TestOrchestrator_StartStop(t *testing.T) {
	ports, err := freeport.GetFreePorts(2)
	require.NoError(t, err)

	o, config := newTestOrchestrator(t,
		helperEntry(emulator.PubSub, ports[0], "listen"),
		helperEntry(emulator.Storage, ports[1], "listen"),
	)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	running := o.Registry().List()
	require.Len(t, running, 3)
	assert.Equal(t, emulator.Hub, running[0].Name)
	assert.Equal(t, emulator.PubSub, running[1].Name)
	assert.Equal(t, emulator.Storage, running[2].Name)
	assert.Greater(t, running[1].PID, 0)

	assert.Equal(t, float64(3), testutil.ToFloat64(o.Metrics().EmulatorsRunning))

	loc, err := o.Locators().Read(config.Project)
	require.NoError(t, err)
	assert.Equal(t, config.Hub.Port, loc.Port)
	var advertised []string
	for _, entry := range loc.Emulators {
		advertised = append(advertised, entry.Name)
	}
	assert.Contains(t, advertised, string(emulator.PubSub))
	assert.Contains(t, advertised, string(emulator.Storage))

	require.NoError(t, o.Stop(ctx))
	assert.Empty(t, o.Registry().List())
	assert.Equal(t, float64(0), testutil.ToFloat64(o.Metrics().EmulatorsRunning))

	_, err = o.Locators().Read(config.Project)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestOrchestrator_FailedEmulatorDoesNotStopOthers(t *testing.T) {
	ports, err := freeport.GetFreePorts(2)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t,
		helperEntry(emulator.Firestore, ports[0], "exit"),
		helperEntry(emulator.Auth, ports[1], "listen"),
	)

	err = o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))

	assert.False(t, o.Registry().IsRunning(emulator.Firestore))
	assert.True(t, o.Registry().IsRunning(emulator.Auth))
	assert.True(t, o.Registry().IsRunning(emulator.Hub))
}

func TestOrchestrator_PortUnavailable(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	o, _ := newTestOrchestrator(t,
		helperEntry(emulator.Database, listener.Addr().(*net.TCPAddr).Port, "listen"),
	)

	err = o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsPortUnavailableError(err))
	assert.False(t, o.Registry().IsRunning(emulator.Database))
}

func TestOrchestrator_Only(t *testing.T) {
	ports, err := freeport.GetFreePorts(2)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t,
		helperEntry(emulator.PubSub, ports[0], "listen"),
		helperEntry(emulator.Eventarc, ports[1], "listen"),
	)
	o.options.Only = []emulator.Name{emulator.Eventarc}

	require.NoError(t, o.Start(context.Background()))
	assert.False(t, o.Registry().IsRunning(emulator.PubSub))
	assert.True(t, o.Registry().IsRunning(emulator.Eventarc))
}

func TestOrchestrator_RunStopsOnCancel(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t, helperEntry(emulator.Tasks, port, "listen"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		return o.Registry().IsRunning(emulator.Tasks)
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Empty(t, o.Registry().List())
}

func TestNew_RejectsUnknownOnlyName(t *testing.T) {
	config := &SuiteConfig{}
	setConfigDefaults(config)

	_, err := New(config, Options{Only: []emulator.Name{"bigtable"}}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestNew_HubDisabled(t *testing.T) {
	disabled := false
	config := &SuiteConfig{Hub: HubConfig{Enabled: &disabled}}
	setConfigDefaults(config)

	o, err := New(config, Options{LocatorDirectory: t.TempDir()}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	assert.Empty(t, o.Registry().List())
	assert.NoError(t, o.Stop(context.Background()))

}
