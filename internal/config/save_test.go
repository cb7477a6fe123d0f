package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSetValue_CreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveProvider(path, "ollama"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "llm:\n  provider: ollama\n", string(data))
}

func TestSetValue_PreservesComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveProvider(path, "anthropic"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "provider: anthropic")
	require.NotContains(t, content, "provider: mock")
	require.Contains(t, content, "# Tiered memory store")
	require.Contains(t, content, "quality_threshold: 80")
}

func TestSetValue_AddsMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: mock\n"), 0o600))

	require.NoError(t, SetValue(path, "metrics.enabled", true))

	var got map[string]map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, "mock", got["llm"]["provider"])
	require.Equal(t, true, got["metrics"]["enabled"])
}

func TestSaveTeam_ReplacesList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveTeam(path, []string{"product_manager", "architect", "developer", "qa"}))

	var got struct {
		Orchestrator struct {
			Team []string `yaml:"team"`
		} `yaml:"orchestrator"`
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, []string{"product_manager", "architect", "developer", "qa"}, got.Orchestrator.Team)
}

func TestSetValue_Errors(t *testing.T) {
	dir := t.TempDir()

	require.ErrorContains(t, SetValue(filepath.Join(dir, "a.yaml"), "llm..provider", "x"), "invalid config key")

	scalar := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(scalar, []byte("llm: mock\n"), 0o600))
	require.ErrorContains(t, SetValue(scalar, "llm.provider", "openai"), "not a mapping")

	list := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- a\n- b\n"), 0o600))
	require.ErrorContains(t, SetValue(list, "llm.provider", "openai"), "config root is not a mapping")

	broken := filepath.Join(dir, "d.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("llm: [\n"), 0o600))
	require.ErrorContains(t, SetValue(broken, "llm.provider", "openai"), "parsing config")
}
