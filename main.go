package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/epam/sge-autoscaler/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run sets up the CLI and runs the requested command.
func Run(args []string) int {
	c := cli.NewCLI("sge-autoscaler", version.Get())
	c.Args = args
	c.HelpWriter = os.Stdout
	c.Commands = Commands(nil)

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}

	return exitCode
}
