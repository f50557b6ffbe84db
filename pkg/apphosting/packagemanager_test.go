package apphosting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-emulators/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func TestDiscoverPackageManager(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		expected PackageManager
		errCheck func(error) bool
	}{
		{"npm", map[string]string{"package-lock.json": "{}"}, PackageManagerNPM, nil},
		{"yarn", map[string]string{"yarn.lock": ""}, PackageManagerYarn, nil},
		{"pnpm", map[string]string{"pnpm-lock.yaml": ""}, PackageManagerPNPM, nil},
		{"bun", map[string]string{"bun.lockb": ""}, PackageManagerBun, nil},
		{"package_json_field_wins", map[string]string{
			"package.json":      `{"name":"web","packageManager":"pnpm@9.1.0+sha512.abc"}`,
			"package-lock.json": "{}",
		}, PackageManagerPNPM, nil},
		{"package_json_without_field", map[string]string{
			"package.json": `{"name":"web"}`,
			"yarn.lock":    "",
		}, PackageManagerYarn, nil},
		{"none", map[string]string{}, "", errors.IsSpawnError},
		{"ambiguous", map[string]string{"yarn.lock": "", "package-lock.json": "{}"}, "", errors.IsSpawnError},
		{"unknown_field", map[string]string{"package.json": `{"packageManager":"deno@2"}`}, "", errors.IsSpawnError},
		{"malformed_package_json", map[string]string{"package.json": `{"packageManager":`}, "", errors.IsParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)

			manager, err := DiscoverPackageManager(dir)
			if tt.errCheck != nil {
				require.Error(t, err)
				assert.True(t, tt.errCheck(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, manager)
		})
	}
}
