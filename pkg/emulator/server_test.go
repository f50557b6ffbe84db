package emulator

import (
	"context"
	stderrors "errors"
	"net"
	"testing"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/portutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	port, err := portutils.EphemeralPort()
	require.NoError(t, err)
	return port
}

func TestServer_Lifecycle(t *testing.T) {
	registry := NewRegistry(newMockLogger())
	inst := newTestInstance(Functions, freePort(t))
	inst.On("Connect", mock.Anything).Return(nil).Once()
	inst.On("Stop", mock.Anything).Return(nil).Once()

	server := NewServer(inst, registry, newMockLogger())
	assert.Equal(t, ServerStateUnregistered, server.State())
	assert.Same(t, inst, server.Get())

	require.NoError(t, server.Start(context.Background()))
	assert.Equal(t, ServerStateRegistered, server.State())
	assert.True(t, registry.IsRunning(Functions))

	require.NoError(t, server.Connect(context.Background()))
	assert.Equal(t, ServerStateConnected, server.State())

	require.NoError(t, server.Stop(context.Background()))
	assert.Equal(t, ServerStateStopped, server.State())
	assert.False(t, registry.IsRunning(Functions))

	// no restart
	err := server.Start(context.Background())
	assert.True(t, errors.IsValidationError(err))

	inst.AssertExpectations(t)
}

func TestServer_PortUnavailable(t *testing.T) {
	listener, err := net.Listen("tcp4", DefaultHost+":0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	registry := NewRegistry(newMockLogger())
	inst := newTestInstance(Functions, port)
	server := NewServer(inst, registry, newMockLogger())

	err = server.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsPortUnavailableError(err))
	assert.Contains(t, err.Error(), "is not open on 127.0.0.1, could not start functions emulator.")

	assert.Empty(t, registry.List())
	assert.Equal(t, ServerStateStopped, server.State())
	inst.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestServer_StarterFailureLeavesRegistryUntouched(t *testing.T) {
	registry := NewRegistry(newMockLogger())
	inst := &MockStarterInstance{}
	inst.On("Name").Return(Hosting)
	inst.On("Info").Return(Info{Name: Hosting, Host: DefaultHost, Port: freePort(t)})
	startErr := errors.NewSpawnError("binary missing", nil)
	inst.On("Start", mock.Anything).Return(startErr).Once()

	server := NewServer(inst, registry, newMockLogger())
	err := server.Start(context.Background())
	assert.Same(t, startErr, err)
	assert.Empty(t, registry.List())
	assert.Equal(t, ServerStateStopped, server.State())
}

func TestServer_RegistryConflictStopsStartedInstance(t *testing.T) {
	registry := NewRegistry(newMockLogger())
	require.NoError(t, registry.Start(context.Background(), newTestInstance(Hosting, 5000)))

	inst := &MockStarterInstance{}
	inst.On("Name").Return(Hosting)
	inst.On("Info").Return(Info{Name: Hosting, Host: DefaultHost, Port: freePort(t)})
	inst.On("Start", mock.Anything).Return(nil).Once()
	inst.On("Stop", mock.Anything).Return(nil).Once()

	err := NewServer(inst, registry, newMockLogger()).Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	inst.AssertExpectations(t)
}

func TestServer_ConnectErrorPropagatesUnchanged(t *testing.T) {
	registry := NewRegistry(newMockLogger())
	inst := newTestInstance(Eventarc, freePort(t))
	connectErr := stderrors.New("not reachable")
	inst.On("Connect", mock.Anything).Return(connectErr).Once()
	inst.On("Stop", mock.Anything).Return(nil).Once()

	server := NewServer(inst, registry, newMockLogger())
	require.NoError(t, server.Start(context.Background()))

	assert.Same(t, connectErr, server.Connect(context.Background()))
	assert.Equal(t, ServerStateRegistered, server.State())

	// registered may go straight to stopped
	require.NoError(t, server.Stop(context.Background()))
	assert.Equal(t, ServerStateStopped, server.State())
}

func TestServer_StopBeforeStart(t *testing.T) {
	server := NewServer(newTestInstance(Auth, 9099), NewRegistry(newMockLogger()), newMockLogger())
	err := server.Stop(context.Background())
	assert.True(t, errors.IsValidationError(err))

	err = server.Connect(context.Background())
	assert.True(t, errors.IsValidationError(err))
}

func TestServer_StopErrorStillDeregisters(t *testing.T) {
	registry := NewRegistry(newMockLogger())
	inst := newTestInstance(Tasks, freePort(t))
	inst.On("Stop", mock.Anything).Return(stderrors.New("hung")).Once()

	server := NewServer(inst, registry, newMockLogger())
	require.NoError(t, server.Start(context.Background()))

	err := server.Stop(context.Background())
	assert.True(t, errors.IsProcessError(err))
	assert.Empty(t, registry.List())
	assert.Equal(t, ServerStateStopped, server.State())
}
