//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"parse", "batch", "import", "escalations", "reports", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "iscanadafair", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestParseCommand_Args(t *testing.T) {
	assert.Error(t, parseCmd.Args(parseCmd, nil))
	assert.NoError(t, parseCmd.Args(parseCmd, []string{"42-1-190", "42-1-191"}))
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "batch command should have --limit flag")
	assert.Equal(t, "0", flag.DefValue)

	for _, name := range []string{"concurrency", "resume"} {
		assert.NotNil(t, batchCmd.Flags().Lookup(name), "batch should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range importCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["entities"])
	assert.True(t, names["members"])
}

func TestEscalationsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range escalationsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["decide"])

	flag := escalationsListCmd.Flags().Lookup("status")
	require.NotNil(t, flag)
	assert.Equal(t, "pending", flag.DefValue)

	for _, name := range []string{"entity", "search", "skip"} {
		assert.NotNil(t, escalationsDecideCmd.Flags().Lookup(name), "decide should have --%s flag", name)
	}
}
