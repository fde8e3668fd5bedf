package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	for _, name := range []string{"serve", "sweep", "show"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestShowCommand_RequiresID(t *testing.T) {
	assert.Error(t, showCmd.Args(showCmd, nil))
	assert.Error(t, showCmd.Args(showCmd, []string{"a", "b"}))
	assert.NoError(t, showCmd.Args(showCmd, []string{"form_0192"}))
	assert.Error(t, sweepCmd.Args(sweepCmd, []string{"extra"}))
}
