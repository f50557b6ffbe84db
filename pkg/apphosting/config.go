package apphosting

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-emulators/pkg/logging"
)

const (
	BaseYamlFile  = "apphosting.yaml"
	LocalYamlFile = "apphosting.local.yaml"
)

// ResolveBackendRoot joins backendRoot onto cwd unless it is already absolute
func ResolveBackendRoot(cwd, backendRoot string) string {
	if backendRoot == "" {
		backendRoot = "./"
	}
	if filepath.IsAbs(backendRoot) {
		return filepath.Clean(backendRoot)
	}
	return filepath.Join(cwd, backendRoot)
}

// DiscoverConfigsAtBackendRoot returns the config files at the backend root, base file first.
// A file that cannot be checked for a reason other than absence is still returned,
// so loading it reports the underlying error.
func DiscoverConfigsAtBackendRoot(cwd, backendRoot string) []string {
	root := ResolveBackendRoot(cwd, backendRoot)

	var found []string
	for _, name := range []string{BaseYamlFile, LocalYamlFile} {
		path := filepath.Join(root, name)
		info, err := os.Stat(path)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			continue
		}
		found = append(found, path)
	}
	return found
}

// ConfigLoader resolves the local App Hosting configuration for a backend
type ConfigLoader struct {
	Discover func(cwd, backendRoot string) []string
	Load     func(path string) (*AppHostingYamlConfig, error)
	Logger   logging.Logger
}

func NewConfigLoader(logger logging.Logger) *ConfigLoader {
	return &ConfigLoader{
		Discover: DiscoverConfigsAtBackendRoot,
		Load:     LoadFromFile,
		Logger:   logger,
	}
}

// GetLocalAppHostingConfiguration loads apphosting.yaml and apphosting.local.yaml,
// with the local file taking precedence. Neither file is required.
func (l *ConfigLoader) GetLocalAppHostingConfiguration(cwd, backendRoot string) (*AppHostingYamlConfig, error) {
	var basePath, localPath string
	for _, path := range l.Discover(cwd, backendRoot) {
		switch filepath.Base(path) {
		case BaseYamlFile:
			basePath = path
		case LocalYamlFile:
			localPath = path
		}
	}

	switch {
	case basePath == "" && localPath == "":
		l.Logger.Debugf("No apphosting config files found, backend root: '%s'", backendRoot)
		return Empty(), nil
	case localPath == "":
		l.Logger.Debugf("Using base apphosting config, path: '%s'", basePath)
		return l.Load(basePath)
	case basePath == "":
		l.Logger.Debugf("Using local apphosting config, path: '%s'", localPath)
		return l.Load(localPath)
	}

	local, err := l.Load(localPath)
	if err != nil {
		return nil, err
	}
	base, err := l.Load(basePath)
	if err != nil {
		return nil, err
	}

	l.Logger.Debugf("Merged apphosting configs, base: '%s', local: '%s'", basePath, localPath)
	return Merge(local, base), nil
}

func GetLocalAppHostingConfiguration(cwd, backendRoot string) (*AppHostingYamlConfig, error) {
	return NewConfigLoader(logging.Nop()).GetLocalAppHostingConfiguration(cwd, backendRoot)
}
