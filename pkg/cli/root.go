package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// output receives command results; logs go to stderr
var output io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "authzctl",
		Description: "authzctl - tenant-scoped authorization administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("authzctl", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newValidateCommand(),
		newMigrateCommand(),
		newBootstrapTenantCommand(),
		newTenantStatusCommand(),
		newAssignRoleCommand(),
		newRevokeRoleCommand(),
		newGrantCommand(),
		newRevokeCommand(),
		newPurgeCommand(),
		newCheckCommand(),
		newPermissionsCommand(),
		newHealthCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(output, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(output, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(output, "  %-17s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	return flags
}
