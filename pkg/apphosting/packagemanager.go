package apphosting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-emulators/pkg/errors"

	"github.com/bytedance/sonic"
)

type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
	PackageManagerBun  PackageManager = "bun"
)

var lockfiles = []struct {
	file    string
	manager PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPNPM},
	{"yarn.lock", PackageManagerYarn},
	{"package-lock.json", PackageManagerNPM},
	{"bun.lockb", PackageManagerBun},
}

type packageJSON struct {
	PackageManager string `json:"packageManager"`
}

// DiscoverPackageManager picks the package manager for the project in dir.
// The packageManager field of package.json wins over lockfiles.
func DiscoverPackageManager(dir string) (PackageManager, error) {
	if manager, ok, err := fromPackageJSON(dir); err != nil || ok {
		return manager, err
	}

	var found []PackageManager
	for _, lock := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, lock.file)); err == nil {
			found = append(found, lock.manager)
		}
	}

	switch len(found) {
	case 0:
		return "", errors.NewSpawnError("unsupported package manager: no lockfile found", nil).
			WithContext("directory", dir)
	case 1:
		return found[0], nil
	default:
		return "", errors.NewSpawnError(fmt.Sprintf("ambiguous package manager: found lockfiles for %v", found), nil).
			WithContext("directory", dir)
	}
}

func fromPackageJSON(dir string) (PackageManager, bool, error) {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.NewIOError("failed to read package.json", err).WithContext("path", path)
	}

	var pkg packageJSON
	if err := sonic.Unmarshal(data, &pkg); err != nil {
		return "", false, errors.NewParseError("failed to parse package.json", err).WithContext("path", path)
	}
	if pkg.PackageManager == "" {
		return "", false, nil
	}

	// "pnpm@9.1.0+sha512..." -> pnpm
	name, _, _ := strings.Cut(pkg.PackageManager, "@")
	switch manager := PackageManager(name); manager {
	case PackageManagerNPM, PackageManagerYarn, PackageManagerPNPM, PackageManagerBun:
		return manager, true, nil
	default:
		return "", false, errors.NewSpawnError(fmt.Sprintf("unsupported package manager: %s", pkg.PackageManager), nil).
			WithContext("path", path)
	}
}
