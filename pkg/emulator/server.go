package emulator

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/portutils"
)

// Server drives one Instance through port verification, registration and teardown
type Server struct {
	instance     Instance
	registry     *Registry
	negotiator   *portutils.Negotiator
	stateMachine *ServerStateMachine
	logger       logging.Logger
}

func NewServer(inst Instance, registry *Registry, logger logging.Logger) *Server {
	var name Name
	if inst != nil {
		name = inst.Name()
	}
	return &Server{
		instance:     inst,
		registry:     registry,
		negotiator:   &portutils.Negotiator{},
		stateMachine: NewServerStateMachine(name, logger),
		logger:       logger,
	}
}

// WithNegotiator replaces the port prober, e.g. to attach metrics
func (s *Server) WithNegotiator(negotiator *portutils.Negotiator) *Server {
	if negotiator != nil {
		s.negotiator = negotiator
	}
	return s
}

// Start verifies the declared port is free, starts the instance if it is a Starter,
// and registers it. Nothing is registered when any step fails.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}
	if s.instance == nil || s.registry == nil {
		return errors.NewValidationError("server requires an instance and a registry", nil)
	}
	if err := s.stateMachine.ValidateOperation("start"); err != nil {
		return err
	}

	info := s.instance.Info()
	name := s.instance.Name()

	open, err := s.negotiator.CheckPortOpen(info.Host, info.Port)
	if err != nil {
		s.fail("start", err)
		return err
	}
	if !open {
		err := errors.NewPortUnavailableError(
			fmt.Sprintf("Port %d is not open on %s, could not start %s emulator.", info.Port, info.Host, name),
			nil,
		).WithContext("emulator", string(name)).WithContext("host", info.Host).WithContext("port", info.Port)
		s.logger.Errorf("%v", err)
		s.fail("start", err)
		return err
	}

	if err := s.stateMachine.Transition(ServerStatePortVerified, "start", nil); err != nil {
		return err
	}

	starter, isStarter := s.instance.(Starter)
	if isStarter {
		s.logger.Infof("Starting emulator, name: %s, host: %s, port: %d", name, info.Host, info.Port)
		if err := starter.Start(ctx); err != nil {
			s.fail("start", err)
			return err
		}
	}

	if err := s.registry.Start(ctx, s.instance); err != nil {
		if isStarter {
			// do not leave an unregistered process behind
			if stopErr := s.instance.Stop(ctx); stopErr != nil {
				s.logger.Warnf("Failed to stop emulator after registration failure, name: %s, error: %v", name, stopErr)
			}
		}
		s.fail("start", err)
		return err
	}

	if err := s.stateMachine.Transition(ServerStateRegistered, "start", nil); err != nil {
		s.logger.Errorf("Failed to transition emulator to registered state, name: %s, error: %v", name, err)
	}
	return nil
}

// Connect delegates to the instance; errors are returned unchanged
func (s *Server) Connect(ctx context.Context) error {
	if err := s.stateMachine.ValidateOperation("connect"); err != nil {
		return err
	}
	if err := s.instance.Connect(ctx); err != nil {
		return err
	}
	if err := s.stateMachine.Transition(ServerStateConnected, "connect", nil); err != nil {
		s.logger.Errorf("Failed to transition emulator to connected state, name: %s, error: %v", s.instance.Name(), err)
	}
	return nil
}

// Stop deregisters the instance, which stops it. The server cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.stateMachine.ValidateOperation("stop"); err != nil {
		return err
	}
	err := s.registry.Stop(ctx, s.instance.Name())
	if transitionErr := s.stateMachine.Transition(ServerStateStopped, "stop", err); transitionErr != nil {
		s.logger.Errorf("Failed to transition emulator to stopped state, name: %s, error: %v", s.instance.Name(), transitionErr)
	}
	return err
}

func (s *Server) Get() Instance {
	return s.instance
}

func (s *Server) State() ServerState {
	return s.stateMachine.GetCurrentState()
}

func (s *Server) fail(operation string, err error) {
	if transitionErr := s.stateMachine.Transition(ServerStateStopped, operation, err); transitionErr != nil {
		s.logger.Errorf("Failed to transition emulator to stopped state, name: %s, error: %v", s.instance.Name(), transitionErr)
	}
}
