package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandMetadata(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "devc", root.Use)
	assert.NotEmpty(t, root.Short)

	verboseFlag := root.PersistentFlags().Lookup("verbose")
	assert.NotNil(t, verboseFlag, "verbose flag should exist")
	assert.Equal(t, "false", verboseFlag.DefValue)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	resolveCmd, _, err := root.Find([]string{"resolve"})
	assert.NoError(t, err)
	assert.Equal(t, "resolve", resolveCmd.Name())

	lockCmd, _, err := root.Find([]string{"lock"})
	assert.NoError(t, err)
	assert.Equal(t, "lock", lockCmd.Name())
}

func TestResolveCommandFlags(t *testing.T) {
	cmd := newResolveCommand()

	workspaceFlag := cmd.Flags().Lookup("workspace-folder")
	assert.NotNil(t, workspaceFlag, "workspace-folder flag should exist")
	assert.Equal(t, ".", workspaceFlag.DefValue)

	configFlag := cmd.Flags().Lookup("config")
	assert.NotNil(t, configFlag, "config flag should exist")
}

func TestLockCommandFlags(t *testing.T) {
	cmd := newLockCommand()

	writeFlag := cmd.Flags().Lookup("write")
	assert.NotNil(t, writeFlag, "write flag should exist")
	assert.Equal(t, "false", writeFlag.DefValue)

	workspaceFlag := cmd.Flags().Lookup("workspace-folder")
	assert.NotNil(t, workspaceFlag, "workspace-folder flag should exist")
}
