package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Structure(t *testing.T) {
	assert.Equal(t, "specwrightd", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotEmpty(t, rootCmd.Example)
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "state-dir"} {
		assert.NotNilf(t, rootCmd.PersistentFlags().Lookup(name), "missing --%s flag", name)
	}
}

func TestWorkerCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range workerCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "pause", "resume", "stop"} {
		assert.Truef(t, names[want], "worker subcommand %q not registered", want)
	}
}

func TestWorktreeCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range worktreeCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list-stale"])
	assert.True(t, names["cleanup"])
}

func TestProjectCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range projectCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
}
