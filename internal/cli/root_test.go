package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "lwrepl", cmd.Use)
	assert.Contains(t, cmd.Long, "converges")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "apply", "show", "export", "converge"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestDatabaseFlagRequired(t *testing.T) {
	for _, name := range []string{"init", "apply", "show", "export"} {
		t.Run(name, func(t *testing.T) {
			cmd := NewRootCommand()
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			dbFlag := sub.Flags().Lookup("db")
			require.NotNil(t, dbFlag)
			assert.Equal(t, "", dbFlag.DefValue)
			assert.Equal(t, []string{"true"}, dbFlag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
		})
	}
}

func TestApplyCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	applyCmd, _, err := cmd.Find([]string{"apply"})
	require.NoError(t, err)

	retries := applyCmd.Flags().Lookup("max-retries")
	require.NotNil(t, retries)
	assert.Equal(t, "5", retries.DefValue)

	workers := applyCmd.Flags().Lookup("workers")
	require.NotNil(t, workers)
	assert.Equal(t, "0", workers.DefValue)
}

func TestExportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	exportCmd, _, err := cmd.Find([]string{"export"})
	require.NoError(t, err)

	outputFlag := exportCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(t, cmd, "--format", "xml", "converge", "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := Execute([]string{"converge", "../harness/testdata/scenarios"}, &stdout, &stderr)
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout.String(), "All scenarios converged")
	})

	t.Run("text failure", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := Execute([]string{"show", "--db", filepath.Join(t.TempDir(), "missing.db")}, &stdout, &stderr)
		assert.Equal(t, ExitCommandError, code)
		assert.True(t, strings.HasPrefix(stderr.String(), "Error: "))
	})

	t.Run("json failure", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := Execute([]string{"--format", "json", "converge", "nowhere"}, &stdout, &stderr)
		assert.Equal(t, ExitCommandError, code)

		var env Envelope
		require.NoError(t, json.Unmarshal(stderr.Bytes(), &env))
		assert.Equal(t, "error", env.Status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "COMMAND_ERROR", env.Error.Code)
	})

	t.Run("invalid format falls back to text", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := Execute([]string{"--format", "xml", "converge", "nowhere"}, &stdout, &stderr)
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr.String(), `Error: invalid format "xml"`)
	})
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
