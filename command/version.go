package command

import (
	"fmt"

	"github.com/mitchellh/cli"
)

// VersionCommand is a Command implementation prints the version.
type VersionCommand struct {
	Version           string
	VersionPrerelease string
	UI                cli.Ui
}

// Help provides the help information for the version command.
func (c *VersionCommand) Help() string {
	return ""
}

// Run executes the version command.
func (c *VersionCommand) Run(_ []string) int {
	var versionString string
	if c.VersionPrerelease != "" {
		versionString = fmt.Sprintf("sge-autoscaler v%s-%s", c.Version, c.VersionPrerelease)
	} else {
		versionString = fmt.Sprintf("sge-autoscaler v%s", c.Version)
	}

	c.UI.Output(versionString)
	return 0
}

// Synopsis provides a brief summary of the version command.
func (c *VersionCommand) Synopsis() string {
	return "Prints the sge-autoscaler version"
}
