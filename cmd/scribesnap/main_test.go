package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
		assert.NotEmpty(t, cmd.Short, cmd.Name())
	}
	for _, want := range []string{"serve", "migrate", "reconcile"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestMigrateAndReconcile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCRIBESNAP_DATABASE_SQLITE_PATH", filepath.Join(dir, "scribesnap.db"))
	t.Setenv("SCRIBESNAP_METRICS_ENABLED", "false")
	t.Setenv("SCRIBESNAP_LOG_LEVEL", "error")

	for _, args := range [][]string{
		{"migrate", "--config", dir},
		{"reconcile", "--config", dir},
	} {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.ExecuteContext(context.Background()), args[0])
		assert.NotEmpty(t, out.String())
	}
	configPaths = nil
}
