package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(out *bytes.Buffer) *Command {
	root := NewRootCommand()
	root.out = out
	return root
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "backstage", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"serve", "migrate", "catalog", "snapshot", "version"}
	for _, name := range expectedCommands {
		assert.Contains(t, root.Subcommands, name)
		assert.NotNil(t, root.Subcommands[name].Run, "subcommand %s has no Run", name)
	}
	assert.Len(t, root.Subcommands, len(expectedCommands))
}

func TestCommandUsage(t *testing.T) {
	var out bytes.Buffer
	root := newTestRoot(&out)

	require.NoError(t, root.usage())

	output := out.String()
	assert.Contains(t, output, "Usage: backstage <command> [args]")
	assert.Contains(t, output, "Commands:")
	for _, name := range []string{"serve", "migrate", "catalog", "snapshot", "version"} {
		assert.Contains(t, output, name)
	}
	assert.Less(t, bytes.Index(out.Bytes(), []byte("catalog")), bytes.Index(out.Bytes(), []byte("serve")))
}

func TestCommandExecute_NoArgs(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newTestRoot(&out).ExecuteArgs(nil))
	assert.Contains(t, out.String(), "Usage: backstage")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "--help", "--HELP", "help"} {
		t.Run(flag, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, newTestRoot(&out).ExecuteArgs([]string{flag}))
			assert.Contains(t, out.String(), "Usage: backstage")
		})
	}
}

func TestCommandExecute_Subcommand(t *testing.T) {
	root := NewRootCommand()

	var received []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			received = args
			return nil
		},
	}

	require.NoError(t, root.ExecuteArgs([]string{"test", "--flag", "value"}))
	assert.Equal(t, []string{"--flag", "value"}, received)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newTestRoot(&out).ExecuteArgs([]string{"version"}))
	assert.Equal(t, "backstage "+Version+"\n", out.String())
}

func TestCatalogCommand_Help(t *testing.T) {
	var out bytes.Buffer
	cmd := newCatalogCommand()
	cmd.out = &out

	require.NoError(t, cmd.Run(nil))
	assert.Contains(t, out.String(), "backstage catalog validate")

	err := cmd.Run([]string{"bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog subcommand")
}

func TestServeCommand_RejectsUnknownFlag(t *testing.T) {
	cmd := newServeCommand()
	cmd.Flags.SetOutput(&bytes.Buffer{})
	assert.Error(t, cmd.Run([]string{"--no-such-flag"}))
}
