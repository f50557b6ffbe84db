package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"
	"github.com/core-tools/hsu-emulators/pkg/processstate"

	"github.com/bytedance/sonic"
)

const DefaultAppName = "hsu-emulators"

// Version of the locator file layout
const Version = 1

// ServiceContext selects the OS directory locator files live in
type ServiceContext string

const (
	// UserService keeps files in the per-user application/runtime directory
	UserService ServiceContext = "user"

	// SessionService keeps files in a directory cleaned up on logout or reboot
	SessionService ServiceContext = "session"
)

type Config struct {
	// Overrides OS-specific directory selection when set
	BaseDirectory string

	ServiceContext ServiceContext
	AppName        string
}

// EmulatorEntry is one running emulator as advertised by the hub
type EmulatorEntry struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
	PID  int    `json:"pid,omitempty"`
}

// Locator tells other processes where a running hub can be reached
type Locator struct {
	Version     int             `json:"version"`
	RunID       string          `json:"runId"`
	Project     string          `json:"project"`
	Host        string          `json:"host"`
	Port        int             `json:"port"`
	MetricsPort int             `json:"metricsPort,omitempty"`
	PID         int             `json:"pid"`
	StartedAt   time.Time       `json:"startedAt"`
	Emulators   []EmulatorEntry `json:"emulators"`
}

// Manager reads and writes hub locator files
type Manager struct {
	config Config
	logger logging.Logger
}

func NewManager(config Config, logger logging.Logger) *Manager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &Manager{config: config, logger: logger}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Path returns the locator file path for project
func (m *Manager) Path(project string) string {
	if project == "" {
		project = "default"
	}
	name := "hub-" + unsafeChars.ReplaceAllString(project, "_") + ".json"
	return filepath.Join(m.Directory(), name)
}

// Directory returns the directory holding locator files
func (m *Manager) Directory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SessionService:
		return filepath.Join(m.sessionDirectory(), m.config.AppName)
	default:
		return filepath.Join(m.userDirectory(), m.config.AppName)
	}
}

// Write stores loc atomically, replacing any previous file for the same project
func (m *Manager) Write(loc Locator) error {
	path := m.Path(loc.Project)
	m.logger.Debugf("Writing locator file, project: %s, path: %s", loc.Project, path)

	if err := ensureDirectory(filepath.Dir(path)); err != nil {
		return err
	}

	if loc.Version == 0 {
		loc.Version = Version
	}
	if loc.Emulators == nil {
		loc.Emulators = []EmulatorEntry{}
	}

	data, err := sonic.ConfigStd.MarshalIndent(&loc, "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to encode locator", err).WithContext("path", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".locator-*")
	if err != nil {
		return errors.NewIOError("failed to create temporary locator file", err).WithContext("path", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewIOError("failed to write locator file", err).WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to write locator file", err).WithContext("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to replace locator file", err).WithContext("path", path)
	}

	m.logger.Infof("Locator file written, project: %s, hub: %s:%d, path: %s", loc.Project, loc.Host, loc.Port, path)
	return nil
}

// Read loads the locator for project; a missing file is a not-found error
func (m *Manager) Read(project string) (*Locator, error) {
	path := m.Path(project)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("no running hub found for project", err).
				WithContext("project", project).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read locator file", err).WithContext("path", path)
	}

	var loc Locator
	if err := sonic.Unmarshal(data, &loc); err != nil {
		return nil, errors.NewParseError("invalid locator file", err).WithContext("path", path)
	}
	if loc.Version != Version {
		return nil, errors.NewParseError(fmt.Sprintf("unsupported locator version %d", loc.Version), nil).
			WithContext("path", path)
	}
	return &loc, nil
}

// ReadLive is Read plus a check that the hub process is still alive.
// A locator left behind by a dead hub is removed and reported as not found.
func (m *Manager) ReadLive(project string) (*Locator, error) {
	loc, err := m.Read(project)
	if err != nil {
		return nil, err
	}

	running, err := processstate.IsProcessRunning(loc.PID)
	if err != nil {
		return nil, errors.NewParseError("locator has an unusable hub PID", err).WithContext("path", m.Path(project))
	}
	if !running {
		m.logger.Warnf("Removing stale locator file, project: %s, PID: %d", project, loc.PID)
		if err := m.Remove(project); err != nil {
			return nil, err
		}
		return nil, errors.NewNotFoundError("hub process is no longer running", nil).
			WithContext("project", project).WithContext("pid", loc.PID)
	}
	return loc, nil
}

// Remove deletes the locator for project; a missing file is not an error
func (m *Manager) Remove(project string) error {
	path := m.Path(project)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove locator file, path: %s, error: %v", path, err)
		return errors.NewIOError("failed to remove locator file", err).WithContext("path", path)
	}
	m.logger.Debugf("Locator file removed, project: %s, path: %s", project, path)
	return nil
}

func (m *Manager) userDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Local")
		}
		return os.TempDir()

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func (m *Manager) sessionDirectory() string {
	if runtime.GOOS == "linux" {
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
	}
	return os.TempDir()
}

func ensureDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access locator directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create locator directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("locator path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
