package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "backstage",
		Description: "Backstage - role and permission engine for event production",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("backstage", flag.ContinueOnError),
		out:         os.Stdout,
	}

	root.Subcommands["serve"] = newServeCommand()
	root.Subcommands["migrate"] = newMigrateCommand()
	root.Subcommands["catalog"] = newCatalogCommand()
	root.Subcommands["snapshot"] = newSnapshotCommand()
	root.Subcommands["version"] = newVersionCommand(root)

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the subcommand named by args[0]
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if isHelp(args[0]) {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

func isHelp(arg string) bool {
	switch strings.ToLower(arg) {
	case "-h", "--help", "help":
		return true
	}
	return false
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func (c *Command) output() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}

func newVersionCommand(root *Command) *Command {
	return &Command{
		Name:        "version",
		Description: "Print the build version",
		Run: func(args []string) error {
			fmt.Fprintf(root.output(), "%s %s\n", root.Name, Version)
			return nil
		},
	}
}
