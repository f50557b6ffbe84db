package apphosting

import (
	"bytes"
	"fmt"
	"os"

	"github.com/core-tools/hsu-emulators/pkg/errors"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable is a plain value exposed to the dev server
type EnvironmentVariable struct {
	Variable     string   `json:"variable"`
	Value        string   `json:"value"`
	Availability []string `json:"availability,omitempty"`
}

// Secret is a reference to a secret manager entry; its value is not resolved locally
type Secret struct {
	Variable     string   `json:"variable"`
	Secret       string   `json:"secret"`
	Availability []string `json:"availability,omitempty"`
}

// AppHostingYamlConfig is the env section of an apphosting yaml file,
// split into plain variables and secret references.
type AppHostingYamlConfig struct {
	EnvironmentVariables []EnvironmentVariable `json:"environmentVariables"`
	Secrets              []Secret              `json:"secrets"`
}

// On-disk shape
type yamlFile struct {
	Env []yamlEnvEntry `yaml:"env"`
}

type yamlEnvEntry struct {
	Variable     string   `yaml:"variable"`
	Value        *string  `yaml:"value,omitempty"`
	Secret       *string  `yaml:"secret,omitempty"`
	Availability []string `yaml:"availability,omitempty"`
}

func Empty() *AppHostingYamlConfig {
	return &AppHostingYamlConfig{
		EnvironmentVariables: []EnvironmentVariable{},
		Secrets:              []Secret{},
	}
}

// LoadFromFile reads and parses an apphosting yaml file
func LoadFromFile(path string) (*AppHostingYamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("apphosting config file not found", err).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read apphosting config file", err).WithContext("path", path)
	}

	config, err := Parse(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("path", path)
		}
		return nil, err
	}
	return config, nil
}

// Parse decodes apphosting yaml content. Keys other than env are ignored.
func Parse(data []byte) (*AppHostingYamlConfig, error) {
	var file yamlFile
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.NewParseError("failed to parse apphosting yaml", err)
		}
	}

	config := Empty()
	for i, entry := range file.Env {
		if entry.Variable == "" {
			return nil, errors.NewParseError(fmt.Sprintf("env entry %d has no variable name", i), nil)
		}
		switch {
		case entry.Value != nil && entry.Secret != nil:
			return nil, errors.NewParseError(
				fmt.Sprintf("env entry '%s' sets both value and secret", entry.Variable), nil)
		case entry.Value != nil:
			config.AddEnvironmentVariable(EnvironmentVariable{
				Variable:     entry.Variable,
				Value:        *entry.Value,
				Availability: entry.Availability,
			})
		case entry.Secret != nil:
			config.AddSecret(Secret{
				Variable:     entry.Variable,
				Secret:       *entry.Secret,
				Availability: entry.Availability,
			})
		default:
			return nil, errors.NewParseError(
				fmt.Sprintf("env entry '%s' sets neither value nor secret", entry.Variable), nil)
		}
	}
	return config, nil
}

// Marshal renders the config back into apphosting yaml form
func (c *AppHostingYamlConfig) Marshal() ([]byte, error) {
	var file yamlFile
	for _, env := range c.EnvironmentVariables {
		value := env.Value
		file.Env = append(file.Env, yamlEnvEntry{Variable: env.Variable, Value: &value, Availability: env.Availability})
	}
	for _, secret := range c.Secrets {
		ref := secret.Secret
		file.Env = append(file.Env, yamlEnvEntry{Variable: secret.Variable, Secret: &ref, Availability: secret.Availability})
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal apphosting yaml", err)
	}
	return data, nil
}

// AddEnvironmentVariable appends env, or replaces the value in place if the variable exists
func (c *AppHostingYamlConfig) AddEnvironmentVariable(env EnvironmentVariable) {
	for i := range c.EnvironmentVariables {
		if c.EnvironmentVariables[i].Variable == env.Variable {
			c.EnvironmentVariables[i] = env
			return
		}
	}
	c.EnvironmentVariables = append(c.EnvironmentVariables, env)
}

// AddSecret appends secret, or replaces the reference in place if the variable exists
func (c *AppHostingYamlConfig) AddSecret(secret Secret) {
	for i := range c.Secrets {
		if c.Secrets[i].Variable == secret.Variable {
			c.Secrets[i] = secret
			return
		}
	}
	c.Secrets = append(c.Secrets, secret)
}

// EnvironmentMap returns the plain variables keyed by name
func (c *AppHostingYamlConfig) EnvironmentMap() map[string]string {
	env := make(map[string]string, len(c.EnvironmentVariables))
	for _, v := range c.EnvironmentVariables {
		env[v.Variable] = v.Value
	}
	return env
}

func (c *AppHostingYamlConfig) Clone() *AppHostingYamlConfig {
	clone := Empty()
	clone.EnvironmentVariables = append(clone.EnvironmentVariables, c.EnvironmentVariables...)
	clone.Secrets = append(clone.Secrets, c.Secrets...)
	return clone
}

// Merge overlays local onto base. Base order is kept, values present in local win,
// then entries only found in local are appended in local order. Inputs are not modified.
func Merge(local, base *AppHostingYamlConfig) *AppHostingYamlConfig {
	if local == nil {
		local = Empty()
	}
	if base == nil {
		base = Empty()
	}

	merged := Empty()
	merged.EnvironmentVariables = mergeEntries(local.EnvironmentVariables, base.EnvironmentVariables,
		func(e EnvironmentVariable) string { return e.Variable })
	merged.Secrets = mergeEntries(local.Secrets, base.Secrets,
		func(s Secret) string { return s.Variable })
	return merged
}

func mergeEntries[T any](local, base []T, key func(T) string) []T {
	localByKey := make(map[string]T, len(local))
	for _, entry := range local {
		localByKey[key(entry)] = entry
	}

	result := make([]T, 0, len(base)+len(local))
	seen := make(map[string]bool, len(base))
	for _, entry := range base {
		k := key(entry)
		seen[k] = true
		if override, ok := localByKey[k]; ok {
			result = append(result, override)
			continue
		}
		result = append(result, entry)
	}
	for _, entry := range local {
		if !seen[key(entry)] {
			result = append(result, entry)
		}
	}
	return result
}
