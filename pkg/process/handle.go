package process

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
)

// Handle tracks one spawned child until it exits
type Handle struct {
	cmd     *exec.Cmd
	command string
	logger  logging.Logger

	done     chan struct{}
	exitErr  error
	stopping atomic.Bool
	stopOnce sync.Once
}

func newHandle(cmd *exec.Cmd, command string, logger logging.Logger) *Handle {
	return &Handle{
		cmd:     cmd,
		command: command,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *Handle) Command() string {
	return h.command
}

// Done is closed once the child has exited and its output is drained
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the child exits. An exit requested through Stop is not an error.
func (h *Handle) Wait() error {
	<-h.done
	return h.exitErr
}

// Stop asks the child's process group to terminate and waits for it to exit.
// When ctx ends first the group is killed.
func (h *Handle) Stop(ctx context.Context) error {
	if !h.Running() {
		return nil
	}

	var signalErr error
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.logger.Infof("Stopping process, command: '%s', PID: %d", h.command, h.Pid())
		signalErr = terminateGroup(h.cmd.Process)
	})
	if signalErr != nil && h.Running() {
		h.logger.Warnf("Termination signal failed, PID: %d, error: %v", h.Pid(), signalErr)
	}

	select {
	case <-h.done:
		return h.exitErr
	case <-ctx.Done():
		h.logger.Warnf("Process did not exit in time, killing, PID: %d", h.Pid())
		if err := killGroup(h.cmd.Process); err != nil && h.Running() {
			return errors.NewProcessError("failed to kill process", err).
				WithContext("command", h.command).
				WithContext("pid", h.Pid())
		}
		<-h.done
		return h.exitErr
	}
}

func (h *Handle) wait(readers *sync.WaitGroup) {
	defer close(h.done)

	// pipes must be drained before cmd.Wait closes them
	readers.Wait()
	err := h.cmd.Wait()

	if err == nil {
		h.logger.Infof("Process exited, command: '%s', PID: %d", h.command, h.Pid())
		return
	}
	if h.stopping.Load() {
		h.logger.Debugf("Process exited after stop, PID: %d, status: %v", h.Pid(), err)
		return
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	h.logger.Warnf("Process exited with error, command: '%s', PID: %d, exit code: %d, error: %v",
		h.command, h.Pid(), exitCode, err)
	h.exitErr = errors.NewProcessError("process exited with error", err).
		WithContext("command", h.command).
		WithContext("pid", h.Pid()).
		WithContext("exit_code", exitCode)
}
