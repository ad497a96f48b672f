package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"serve", "worker", "migrate", "profiles", "reports", "runs", "grid"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "rankgrid", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	assert.Equal(t, "o", flag.Shorthand)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestReportsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reportsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "create", "run", "delete"} {
		assert.True(t, names[name], "reports should have subcommand %q", name)
	}
}

func TestReportsCreateCommand_Flags(t *testing.T) {
	for _, name := range []string{"profile", "name", "business-name", "keyword", "radius-km", "grid-size", "frequency", "day", "hour", "timezone"} {
		assert.NotNil(t, reportsCreateCmd.Flags().Lookup(name), "reports create should have --%s flag", name)
	}
	assert.Equal(t, "5", reportsCreateCmd.Flags().Lookup("grid-size").DefValue)
	assert.Equal(t, "3", reportsCreateCmd.Flags().Lookup("radius-km").DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "results", "export"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
	assert.Equal(t, "xlsx", runsExportCmd.Flags().Lookup("format").DefValue)
}

func TestCreateInputFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	addCreateFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--profile", "p1",
		"--name", "Plumbing",
		"--keyword", "plumber near me",
		"--keyword", "drain cleaning",
		"--grid-size", "7",
		"--frequency", "weekly",
		"--day", "1",
		"--hour", "6",
		"--timezone", "America/Chicago",
	}))

	in := createInputFromFlags(fs)
	assert.Equal(t, "p1", in.ProfileID)
	assert.Equal(t, "Plumbing", in.Name)
	assert.Equal(t, []string{"plumber near me", "drain cleaning"}, in.Keywords)
	assert.Equal(t, 7, in.GridSize)
	assert.InDelta(t, 3.0, in.RadiusKM, 1e-9)
	assert.Equal(t, "weekly", in.Schedule.Frequency)
	assert.Equal(t, 1, in.Schedule.Day)
	assert.Equal(t, 6, in.Schedule.Hour)
	assert.Equal(t, "America/Chicago", in.Schedule.Timezone)
}
