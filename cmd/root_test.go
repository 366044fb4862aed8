package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"unify", "normalize", "rank", "repair", "validate", "run", "watch", "runs", "strategies"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "tradehub", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestStageCommand_Flags(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
	}{
		{"unify", []string{"screener", "outdir", "encoding"}},
		{"normalize", []string{"max-age-minutes", "allow-stale", "screener"}},
		{"rank", []string{"screener", "infile", "in-main", "in-custom", "outdir", "top", "ivr-min", "dte-min", "dte-max", "allow-fallback"}},
		{"repair", []string{"dirs"}},
		{"validate", []string{"screener", "unified", "main", "custom"}},
		{"run", []string{"strategy"}},
		{"watch", []string{"strategy", "port"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.name})
			require.NoError(t, err)
			for _, f := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(f), "%s should have --%s", tt.name, f)
			}
		})
	}
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "15", normalizeCmd.Flags().Lookup("max-age-minutes").DefValue)
	assert.Equal(t, "10", rankCmd.Flags().Lookup("top").DefValue)
	assert.Equal(t, "false", rankCmd.Flags().Lookup("allow-fallback").DefValue)
	assert.Equal(t, "0", watchCmd.Flags().Lookup("port").DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}
