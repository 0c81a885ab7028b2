package cmd

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regscope/regscope/internal/errors"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitConfig, exitCode(errors.ConfigError("missing vector index API key", nil)))
	assert.Equal(t, ExitPartial, exitCode(fmt.Errorf("ingestion: %w", errPartial)))
	assert.Equal(t, ExitFailure, exitCode(fmt.Errorf("vector index unreachable")))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"ingest", "query", "history", "coverage", "validate", "version"}
	got := make(map[string]bool)
	for _, sub := range root.Commands() {
		got[sub.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "missing subcommand %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "regscope version")
}

func TestIngest_RejectsUnknownFamily(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "parish"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitConfig, exitCode(err))
}

func TestIngest_UnitRequiresSingleFamily(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--unit", "21:117"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitConfig, exitCode(err))
}
