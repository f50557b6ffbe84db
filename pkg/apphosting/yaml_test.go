package apphosting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-emulators/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configOne() *AppHostingYamlConfig {
	c := Empty()
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvOne", Value: "envOne"})
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvTwo", Value: "envTwo"})
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvThree", Value: "envThree"})
	c.AddSecret(Secret{Variable: "randomSecretOne", Secret: "secretOne"})
	c.AddSecret(Secret{Variable: "randomSecretTwo", Secret: "secretTwo"})
	c.AddSecret(Secret{Variable: "randomSecretThree", Secret: "secretThree"})
	return c
}

func configTwo() *AppHostingYamlConfig {
	c := Empty()
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvOne", Value: "envOne"})
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvTwo", Value: "blah"})
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvFour", Value: "envFour"})
	c.AddSecret(Secret{Variable: "randomSecretOne", Secret: "bleh"})
	c.AddSecret(Secret{Variable: "randomSecretTwo", Secret: "secretTwo"})
	c.AddSecret(Secret{Variable: "randomSecretFour", Secret: "secretFour"})
	return c
}

func TestMerge_LocalTakesPrecedence(t *testing.T) {
	local, base := configTwo(), configOne()

	merged := Merge(local, base)

	assert.Equal(t, []EnvironmentVariable{
		{Variable: "randomEnvOne", Value: "envOne"},
		{Variable: "randomEnvTwo", Value: "blah"},
		{Variable: "randomEnvThree", Value: "envThree"},
		{Variable: "randomEnvFour", Value: "envFour"},
	}, merged.EnvironmentVariables)
	assert.Equal(t, []Secret{
		{Variable: "randomSecretOne", Secret: "bleh"},
		{Variable: "randomSecretTwo", Secret: "secretTwo"},
		{Variable: "randomSecretThree", Secret: "secretThree"},
		{Variable: "randomSecretFour", Secret: "secretFour"},
	}, merged.Secrets)

	// inputs untouched
	assert.Equal(t, configTwo(), local)
	assert.Equal(t, configOne(), base)
}

func TestMerge_NilAndEmpty(t *testing.T) {
	merged := Merge(nil, nil)
	assert.NotNil(t, merged.EnvironmentVariables)
	assert.Empty(t, merged.EnvironmentVariables)
	assert.NotNil(t, merged.Secrets)

	assert.Equal(t, configOne().EnvironmentVariables, Merge(Empty(), configOne()).EnvironmentVariables)
	assert.Equal(t, configOne().Secrets, Merge(configOne(), Empty()).Secrets)
}

func TestAddEnvironmentVariable_OverwritesInPlace(t *testing.T) {
	c := configOne()
	c.AddEnvironmentVariable(EnvironmentVariable{Variable: "randomEnvTwo", Value: "changed"})
	c.AddSecret(Secret{Variable: "randomSecretOne", Secret: "rotated"})

	require.Len(t, c.EnvironmentVariables, 3)
	assert.Equal(t, "changed", c.EnvironmentVariables[1].Value)
	require.Len(t, c.Secrets, 3)
	assert.Equal(t, "rotated", c.Secrets[0].Secret)
}

func TestParse(t *testing.T) {
	t.Run("values_and_secrets", func(t *testing.T) {
		c, err := Parse([]byte(`
runConfig:
  minInstances: 0
env:
  - variable: FOO
    value: bar
    availability: [BUILD, RUNTIME]
  - variable: API_KEY
    secret: projects/p/secrets/key
  - variable: EMPTY
    value: ""
`))
		require.NoError(t, err)
		assert.Equal(t, []EnvironmentVariable{
			{Variable: "FOO", Value: "bar", Availability: []string{"BUILD", "RUNTIME"}},
			{Variable: "EMPTY", Value: ""},
		}, c.EnvironmentVariables)
		assert.Equal(t, []Secret{{Variable: "API_KEY", Secret: "projects/p/secrets/key"}}, c.Secrets)
	})

	t.Run("empty_document", func(t *testing.T) {
		c, err := Parse([]byte("  \n"))
		require.NoError(t, err)
		assert.Equal(t, Empty(), c)
	})

	invalid := map[string]string{
		"malformed":    "env: [",
		"both":         "env:\n  - variable: A\n    value: x\n    secret: y\n",
		"neither":      "env:\n  - variable: A\n",
		"missing_name": "env:\n  - value: x\n",
	}
	for name, content := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			require.Error(t, err)
			assert.True(t, errors.IsParseError(err))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, BaseYamlFile))
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	path := filepath.Join(dir, BaseYamlFile)
	require.NoError(t, os.WriteFile(path, []byte("env:\n  - variable: A\n"), 0644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, path, domainErr.Context["path"])
}

func TestMarshal_ReloadsToSameConfig(t *testing.T) {
	data, err := configOne().Marshal()
	require.NoError(t, err)

	reloaded, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, configOne(), reloaded)
}
