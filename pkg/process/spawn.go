package process

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
)

// Stdio selects what happens to the child's stdout/stderr
type Stdio string

const (
	StdioInherit Stdio = "inherit"
	StdioLog     Stdio = "log"
	StdioDiscard Stdio = "discard"
)

const DefaultWaitDelay = 5 * time.Second

// words the shell resolves itself; they never appear on PATH
var shellWords = map[string]bool{
	"cd": true, "exec": true, "export": true, "exit": true, "set": true,
	"trap": true, "true": true, "false": true, "echo": true, ":": true, ".": true,
	"if": true, "for": true, "while": true, "until": true, "case": true,
	"time": true, "eval": true, "source": true, "[": true, "[[": true,
}

// a first word starting with one of these is shell syntax, not a binary
const shellSyntaxPrefixes = "({!$`"

type SpawnConfig struct {
	// Name labels log lines and errors
	Name string `yaml:"name,omitempty"`

	// Either Executable (+Args) or CommandString must be set
	Executable    string   `yaml:"executable,omitempty"`
	Args          []string `yaml:"args,omitempty"`
	CommandString string   `yaml:"command_string,omitempty"`

	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
	Stdio            Stdio             `yaml:"stdio,omitempty"`

	// Grace period between the termination signal and the kill signal
	WaitDelay time.Duration `yaml:"wait_delay,omitempty"`
}

// Display renders the attempted command for logs and errors
func (c SpawnConfig) Display() string {
	if c.CommandString != "" {
		return c.CommandString
	}
	return strings.TrimSpace(c.Executable + " " + strings.Join(c.Args, " "))
}

// Spawn launches the child and returns as soon as it is running.
// Cancelling ctx terminates the child's process group.
func Spawn(ctx context.Context, config SpawnConfig, logger logging.Logger) (*Handle, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if err := ValidateSpawnConfig(config); err != nil {
		logger.Errorf("Spawn configuration validation failed, command: '%s', error: %v", config.Display(), err)
		return nil, err
	}

	executable, args := config.Executable, config.Args
	if config.CommandString != "" {
		executable, args = shellCommand(config.CommandString)
	}

	workDir, err := filepath.Abs(config.WorkingDirectory)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve working directory", err).
			WithContext("working_directory", config.WorkingDirectory)
	}

	if target := lookupTarget(config); target != "" {
		resolved, err := resolveTarget(target, workDir)
		if err != nil {
			return nil, errors.NewSpawnError("command not found", err).
				WithContext("command", config.Display()).
				WithContext("working_directory", workDir)
		}
		if config.CommandString == "" {
			executable = resolved
		}
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = workDir
	cmd.Env = BuildEnvironment(os.Environ(), config.Environment)
	setupProcessAttributes(cmd)
	cmd.Cancel = func() error {
		return terminateGroup(cmd.Process)
	}
	cmd.WaitDelay = config.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var pipes []io.ReadCloser
	switch config.Stdio {
	case StdioLog:
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.NewSpawnError("failed to create stdout pipe", err).WithContext("command", config.Display())
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, errors.NewSpawnError("failed to create stderr pipe", err).WithContext("command", config.Display())
		}
		pipes = append(pipes, stdout, stderr)
	case StdioDiscard:
		// nil stdout/stderr go to the null device
	default:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	logger.Debugf("Spawning process, command: '%s', working directory: '%s', overlay: %v",
		config.Display(), workDir, sortedKeys(config.Environment))

	if err := cmd.Start(); err != nil {
		logger.Errorf("Failed to spawn process, command: '%s', error: %v", config.Display(), err)
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("command", config.Display()).
			WithContext("working_directory", workDir)
	}

	logger.Infof("Spawned process, command: '%s', PID: %d", config.Display(), cmd.Process.Pid)

	h := newHandle(cmd, config.Display(), logger)

	var readers sync.WaitGroup
	for _, pipe := range pipes {
		readers.Add(1)
		go func(r io.ReadCloser) {
			defer readers.Done()
			forwardLines(config.Name, r, logger)
		}(pipe)
	}
	go h.wait(&readers)

	return h, nil
}

// Run launches the child and waits for it to exit; a non-zero exit is an error
func Run(ctx context.Context, config SpawnConfig, logger logging.Logger) error {
	h, err := Spawn(ctx, config, logger)
	if err != nil {
		return err
	}
	return h.Wait()
}

// SpawnWithCommandString runs command through the platform shell
func SpawnWithCommandString(ctx context.Context, command, dir string, env map[string]string, logger logging.Logger) (*Handle, error) {
	return Spawn(ctx, SpawnConfig{
		CommandString:    command,
		WorkingDirectory: dir,
		Environment:      env,
	}, logger)
}

// WrapSpawn runs executable with args directly, without a shell
func WrapSpawn(ctx context.Context, executable string, args []string, dir string, env map[string]string, logger logging.Logger) (*Handle, error) {
	return Spawn(ctx, SpawnConfig{
		Executable:       executable,
		Args:             args,
		WorkingDirectory: dir,
		Environment:      env,
	}, logger)
}

// BuildEnvironment appends overlay (sorted by key) to base; later entries win in exec
func BuildEnvironment(base []string, overlay map[string]string) []string {
	env := make([]string, 0, len(base)+len(overlay))
	env = append(env, base...)
	for _, key := range sortedKeys(overlay) {
		env = append(env, key+"="+overlay[key])
	}
	return env
}

// commandWord returns the first word of a shell string after any VAR=value prefixes
func commandWord(command string) string {
	for _, field := range strings.Fields(command) {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "=") {
			continue
		}
		return field
	}
	return ""
}

// lookupTarget picks the binary that must exist before spawning.
// It is empty when the shell itself has to interpret the command word.
func lookupTarget(config SpawnConfig) string {
	if config.CommandString == "" {
		return config.Executable
	}
	word := commandWord(config.CommandString)
	if word == "" || strings.ContainsAny(word[:1], shellSyntaxPrefixes) {
		return ""
	}
	word = strings.Trim(word, `"'`)
	if shellWords[word] {
		return ""
	}
	return word
}

// resolveTarget finds target on PATH, or relative to workDir when it names a path
func resolveTarget(target, workDir string) (string, error) {
	if strings.ContainsRune(target, '/') || strings.ContainsRune(target, filepath.Separator) {
		if !filepath.IsAbs(target) {
			target = filepath.Join(workDir, target)
		}
	}
	return exec.LookPath(target)
}

func forwardLines(name string, r io.ReadCloser, logger logging.Logger) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		logger.Infof("[%s] %s", name, line)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
