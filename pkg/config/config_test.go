package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	path := writeConfig(t, "core:\n  log_level: info\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "version")
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, "version: \"99\"\ncore:\n  log_level: info\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "not supported")
}

func TestLoadParsesCoreAndServiceSections(t *testing.T) {
	path := writeConfig(t, `
version: "1"
core:
  log_level: debug
mongo:
  default:
    host: localhost
    port: 27017
  readonly:
    host: replica.internal
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "1", cfg.Version)
	require.Equal(t, "debug", cfg.Core["log_level"])

	section, err := cfg.Service("mongo", "")
	require.NoError(t, err)
	require.Equal(t, "localhost", section["host"])

	ro, err := cfg.Service("mongo", "readonly")
	require.NoError(t, err)
	require.Equal(t, "replica.internal", ro["host"])
}

func TestServiceErrorsOnUnknownService(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\ncore:\n  log_level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Service("redis", "")
	require.ErrorContains(t, err, "not found")
}

func TestServiceErrorsOnUnknownSection(t *testing.T) {
	path := writeConfig(t, `
version: "1"
mongo:
  default:
    host: localhost
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Service("mongo", "readonly")
	require.ErrorContains(t, err, "not found")
}
