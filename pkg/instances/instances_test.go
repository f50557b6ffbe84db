package instances

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/apphosting"
	"github.com/core-tools/hsu-emulators/pkg/emulator"
	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/monitoring"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
	"github.com/core-tools/hsu-emulators/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperModeEnv = "HSU_HELPER_MODE"

// TestHelperProcess is the child launched by the tests below. It does nothing
// unless the mode variable is set.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv(helperModeEnv) {
	case "":
		return
	case "exit":
		os.Exit(3)
	case "listen":
		host := os.Getenv("HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		listener, err := net.Listen("tcp", net.JoinHostPort(host, os.Getenv("PORT")))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Println("listening on", listener.Addr())
		for {
			conn, err := listener.Accept()
			if err != nil {
				os.Exit(0)
			}
			conn.Close()
		}
	}
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process group signalling differs on windows")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	port, err := portutils.EphemeralPort()
	require.NoError(t, err)
	return port
}

func helperCommand(mode string) process.SpawnConfig {
	return process.SpawnConfig{
		Executable:  os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$"},
		Environment: map[string]string{helperModeEnv: mode},
	}
}

func readiness() monitoring.ReadinessConfig {
	return monitoring.ReadinessConfig{Type: monitoring.ReadinessTypeTCP, Timeout: 10 * time.Second, Interval: 50 * time.Millisecond}
}

func TestNewCommandEmulator_Defaults(t *testing.T) {
	c := NewCommandEmulator(CommandOptions{Name: emulator.Firestore}, logging.Nop())

	info := c.Info()
	assert.Equal(t, emulator.Firestore, c.Name())
	assert.Equal(t, emulator.DefaultHost, info.Host)
	assert.Equal(t, 8080, info.Port)
	assert.Zero(t, info.PID)
	assert.Equal(t, process.StdioLog, c.options.Command.Stdio)
	assert.Equal(t, "firestore", c.options.Command.Name)
}

func TestCommandEmulator_Lifecycle(t *testing.T) {
	skipOnWindows(t)

	port := freePort(t)
	registry := emulator.NewRegistry(logging.Nop())
	c := NewCommandEmulator(CommandOptions{
		Name:      emulator.PubSub,
		Port:      port,
		Command:   helperCommand("listen"),
		Readiness: readiness(),
	}, logging.Nop())

	ctx := context.Background()
	server := emulator.NewServer(c, registry, logging.Nop())
	require.NoError(t, server.Start(ctx))
	require.NoError(t, server.Connect(ctx))

	info := c.Info()
	assert.Equal(t, port, info.Port)
	assert.Greater(t, info.PID, 0)
	assert.True(t, registry.IsRunning(emulator.PubSub))

	require.NoError(t, server.Stop(ctx))
	assert.False(t, registry.IsRunning(emulator.PubSub))
	assert.Zero(t, c.Info().PID)

	open, err := portutils.CheckPortOpen("127.0.0.1", port)
	require.NoError(t, err)
	assert.True(t, open, "port should be released after stop")
}

func TestCommandEmulator_ExitBeforeReady(t *testing.T) {
	skipOnWindows(t)

	c := NewCommandEmulator(CommandOptions{
		Name:      emulator.Storage,
		Port:      freePort(t),
		Command:   helperCommand("exit"),
		Readiness: readiness(),
	}, logging.Nop())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
	assert.Contains(t, err.Error(), "exited before becoming ready")
}

func TestCommandEmulator_StartTwice(t *testing.T) {
	skipOnWindows(t)

	c := NewCommandEmulator(CommandOptions{
		Name:      emulator.Auth,
		Port:      freePort(t),
		Command:   helperCommand("listen"),
		Readiness: readiness(),
	}, logging.Nop())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	err := c.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestCommandEmulator_NotStarted(t *testing.T) {
	c := NewCommandEmulator(CommandOptions{Name: emulator.Database}, logging.Nop())

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	assert.NoError(t, c.Stop(context.Background()))
}

func TestCommandEmulator_MissingBinary(t *testing.T) {
	c := NewCommandEmulator(CommandOptions{
		Name:    emulator.Tasks,
		Command: process.SpawnConfig{Executable: "hsu-emulators-no-such-binary"},
	}, logging.Nop())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func writeBackend(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, apphosting.BaseYamlFile), []byte(yaml), 0o644))
	return dir
}

func newAppHosting(t *testing.T, dir string) *AppHostingEmulator {
	t.Helper()
	return NewAppHostingEmulator(AppHostingOptions{
		Serve: apphosting.ServeOptions{
			Port:  freePort(t),
			Cwd:   dir,
			Stdio: process.StdioDiscard,
		},
		Start: apphosting.StartOptions{
			StartCommand: fmt.Sprintf("'%s' -test.run=^TestHelperProcess$", os.Args[0]),
		},
		Readiness: readiness(),
	}, logging.Nop())
}

func TestAppHostingEmulator_Lifecycle(t *testing.T) {
	skipOnWindows(t)

	dir := writeBackend(t, `env:
  - variable: HSU_HELPER_MODE
    value: listen
`)
	a := newAppHosting(t, dir)
	requested := a.Info().Port

	ctx := context.Background()
	registry := emulator.NewRegistry(logging.Nop())
	require.NoError(t, StartAppHosting(ctx, a, registry))
	require.NoError(t, a.Connect(ctx))

	result := a.Result()
	require.NotNil(t, result)
	assert.Equal(t, "listen", result.Environment[helperModeEnv])

	inst, ok := registry.Get(emulator.AppHosting)
	require.True(t, ok)
	assert.Equal(t, result.Port, inst.Info().Port)
	assert.Equal(t, requested, result.Port)
	assert.Greater(t, inst.Info().PID, 0)

	require.NoError(t, registry.Stop(ctx, emulator.AppHosting))
	assert.False(t, result.Process.Running())
}

func TestAppHostingEmulator_NegotiatesBusyPort(t *testing.T) {
	skipOnWindows(t)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	busy := listener.Addr().(*net.TCPAddr).Port

	dir := writeBackend(t, `env:
  - variable: HSU_HELPER_MODE
    value: listen
`)
	a := newAppHosting(t, dir)
	a.serve = apphosting.NewServe(apphosting.ServeOptions{Port: busy, Cwd: dir, Stdio: process.StdioDiscard}, logging.Nop())

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	assert.Greater(t, a.Info().Port, busy)
	require.NoError(t, a.Connect(ctx))
}

type occupyingInstance struct{}

func (occupyingInstance) Name() emulator.Name           { return emulator.AppHosting }
func (occupyingInstance) Info() emulator.Info           { return emulator.Info{Name: emulator.AppHosting} }
func (occupyingInstance) Connect(context.Context) error { return nil }
func (occupyingInstance) Stop(context.Context) error    { return nil }

func TestStartAppHosting_ConflictStopsDevServer(t *testing.T) {
	skipOnWindows(t)

	dir := writeBackend(t, `env:
  - variable: HSU_HELPER_MODE
    value: listen
`)
	a := newAppHosting(t, dir)

	ctx := context.Background()
	registry := emulator.NewRegistry(logging.Nop())
	require.NoError(t, registry.Start(ctx, occupyingInstance{}))

	err := StartAppHosting(ctx, a, registry)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	result := a.Result()
	require.NotNil(t, result)
	select {
	case <-result.Process.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("dev server still running after failed registration")
	}
}

func TestAppHostingEmulator_NotStarted(t *testing.T) {
	a := NewAppHostingEmulator(AppHostingOptions{}, logging.Nop())

	info := a.Info()
	assert.Equal(t, apphosting.DefaultHost, info.Host)
	assert.Equal(t, apphosting.DefaultPort, info.Port)

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.NoError(t, a.Stop(context.Background()))
}
