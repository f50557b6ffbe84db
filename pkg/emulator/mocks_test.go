package emulator

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockInstance is a mock implementation of Instance for testing
type MockInstance struct {
	mock.Mock
}

func (m *MockInstance) Name() Name {
	args := m.Called()
	return args.Get(0).(Name)
}

func (m *MockInstance) Info() Info {
	args := m.Called()
	return args.Get(0).(Info)
}

func (m *MockInstance) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockInstance) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockStarterInstance adds Start to MockInstance
type MockStarterInstance struct {
	MockInstance
}

func (m *MockStarterInstance) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

// MockObserver is a mock implementation of Observer for testing
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) EmulatorRegistered(info Info) {
	m.Called(info)
}

func (m *MockObserver) EmulatorDeregistered(info Info, stopErr error) {
	m.Called(info, stopErr)
}

func newTestInstance(name Name, port int) *MockInstance {
	inst := &MockInstance{}
	inst.On("Name").Return(name)
	inst.On("Info").Return(Info{Name: name, Host: DefaultHost, Port: port})
	return inst
}
