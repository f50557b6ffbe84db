package emulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
)

// ServerState is the position of a Server in its one-way lifecycle
type ServerState string

const (
	// ServerStateUnregistered is the initial state, nothing checked yet
	ServerStateUnregistered ServerState = "unregistered"

	// ServerStatePortVerified means the declared port was free
	ServerStatePortVerified ServerState = "port_verified"

	// ServerStateRegistered means the instance is in the registry
	ServerStateRegistered ServerState = "registered"

	// ServerStateConnected means the instance reported it is reachable
	ServerStateConnected ServerState = "connected"

	// ServerStateStopped is terminal
	ServerStateStopped ServerState = "stopped"
)

type ServerStateTransition struct {
	From      ServerState
	To        ServerState
	Operation string
	Timestamp time.Time
	Error     error
}

// ServerStateMachine validates Server transitions; states only ever move forward
type ServerStateMachine struct {
	name             Name
	currentState     ServerState
	transitions      []ServerStateTransition
	validTransitions map[ServerState][]ServerState
	mutex            sync.RWMutex
	logger           logging.Logger
}

func NewServerStateMachine(name Name, logger logging.Logger) *ServerStateMachine {
	return &ServerStateMachine{
		name:         name,
		currentState: ServerStateUnregistered,
		logger:       logger,
		validTransitions: map[ServerState][]ServerState{
			ServerStateUnregistered: {
				ServerStatePortVerified, // start: port free
				ServerStateStopped,      // start: port busy
			},
			ServerStatePortVerified: {
				ServerStateRegistered, // start success
				ServerStateStopped,    // start or registration failure
			},
			ServerStateRegistered: {
				ServerStateConnected, // connect
				ServerStateStopped,   // stop
			},
			ServerStateConnected: {
				ServerStateStopped, // stop
			},
		},
	}
}

func (sm *ServerStateMachine) GetCurrentState() ServerState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *ServerStateMachine) CanTransition(to ServerState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition moves to the given state, rejecting anything not in the transition table
func (sm *ServerStateMachine) Transition(to ServerState, operation string, err error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	from := sm.currentState
	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from %s to %s for operation %s", from, to, operation),
			nil,
		).WithContext("emulator", string(sm.name)).WithContext("current_state", string(from)).WithContext("target_state", string(to))
	}

	sm.transitions = append(sm.transitions, ServerStateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
		Error:     err,
	})
	sm.currentState = to

	if err != nil {
		sm.logger.Warnf("Emulator state transition failed, emulator: %s, %s->%s, operation: %s, error: %v",
			sm.name, from, to, operation, err)
	} else {
		sm.logger.Debugf("Emulator state transition, emulator: %s, %s->%s, operation: %s",
			sm.name, from, to, operation)
	}
	return nil
}

func (sm *ServerStateMachine) canTransitionUnsafe(to ServerState) bool {
	for _, valid := range sm.validTransitions[sm.currentState] {
		if valid == to {
			return true
		}
	}
	return false
}

func (sm *ServerStateMachine) GetTransitionHistory() []ServerStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]ServerStateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}

// IsOperationAllowed maps Server operations onto the states that permit them
func (sm *ServerStateMachine) IsOperationAllowed(operation string) bool {
	state := sm.GetCurrentState()

	switch operation {
	case "start":
		return state == ServerStateUnregistered
	case "connect":
		return state == ServerStateRegistered
	case "stop":
		return state == ServerStateRegistered || state == ServerStateConnected
	default:
		return false
	}
}

func (sm *ServerStateMachine) ValidateOperation(operation string) error {
	if sm.IsOperationAllowed(operation) {
		return nil
	}

	state := sm.GetCurrentState()
	return errors.NewValidationError(
		fmt.Sprintf("operation '%s' not allowed in current state '%s'", operation, state),
		nil,
	).WithContext("emulator", string(sm.name)).WithContext("current_state", string(state)).WithContext("operation", operation)
}
