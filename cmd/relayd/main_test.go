package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetOutputs clears the output writers set on the shared rootCmd between
// tests, since cobra.Command carries them as mutable state.
func resetOutputs() {
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["version"])
	require.True(t, names["config"])
}

func TestVersionCommand_PrintsBuildVersion(t *testing.T) {
	defer resetOutputs()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), buildVersion)
}

func TestConfigInitCommand_WritesStarterFile(t *testing.T) {
	defer resetOutputs()
	dir := t.TempDir()
	out := filepath.Join(dir, "relay.toml")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "init", "--out", out, "--vault", filepath.Join(dir, "vault")})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), "[vault]")
}

func TestConfigInitCommand_RefusesOverwrite(t *testing.T) {
	defer resetOutputs()
	dir := t.TempDir()
	out := filepath.Join(dir, "relay.toml")
	require.NoError(t, os.WriteFile(out, []byte("existing"), 0o600))

	rootCmd.SetArgs([]string{"config", "init", "--out", out})
	err := rootCmd.Execute()
	require.Error(t, err)
}
