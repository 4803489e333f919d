package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/metalagman/plancheck/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// execute runs the CLI in-process. Commands share the global viper instance,
// so these tests do not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitWritesLoadableConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".plancheck", "config.json")

	out, err := execute(t, "--config", configPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized successfully")

	cfg, err := config.Load(viper.New(), configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	// a second init keeps the existing file
	require.NoError(t, writeTestFile(configPath, `{"reasoning": {"model": "gemini-2.5-flash"}}`))
	_, err = execute(t, "--config", configPath, "init")
	require.NoError(t, err)
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gemini-2.5-flash")
}

func TestCatalogCommand(t *testing.T) {
	out, err := execute(t, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "42 checks")
	assert.Contains(t, out, "ELV-09")
	assert.Contains(t, out, "elev_protection")

	raw, err := execute(t, "catalog", "--raw")
	require.NoError(t, err)
	assert.Equal(t, string(catalog.Raw()), raw)
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, writeTestFile(good, string(catalog.Raw())))
	out, err := execute(t, "catalog", "--validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "42 checks, 5 agents")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, writeTestFile(bad, strings.Replace(string(catalog.Raw()), "id: SP-02", "id: SP-01", 1)))
	_, err = execute(t, "catalog", "--validate", bad)
	require.ErrorIs(t, err, catalog.ErrInvalidCatalog)
}

func TestRunsCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "plancheck.db")
	require.NoError(t, config.Write(configPath, cfg))

	out, err := execute(t, "--config", configPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")

	_, err = execute(t, "--config", configPath, "runs", "events", "missing")
	require.Error(t, err)

	_, err = execute(t, "--config", configPath, "runs", "prune", "--keep-last", "1", "--dry-run")
	require.NoError(t, err)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	notPDF := filepath.Join(dir, "plans.pdf")
	require.NoError(t, writeTestFile(notPDF, "hello"))

	_, err := execute(t, "--config", filepath.Join(dir, "absent.json"), "analyze", notPDF)
	require.ErrorContains(t, err, "only PDF files")

	_, err = execute(t, "analyze", notPDF, "--format", "xml")
	require.ErrorContains(t, err, "unknown format")

	_, err = execute(t, "--log-format", "yaml", "catalog")
	require.ErrorContains(t, err, "unknown log format")
}
