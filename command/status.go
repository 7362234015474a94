package command

import (
	"fmt"
	"strings"

	"github.com/epam/sge-autoscaler/api"
)

// StatusCommand queries a running agent and prints the current autoscaling
// state.
type StatusCommand struct {
	Meta
}

// Help provides the help information for the status command.
func (c *StatusCommand) Help() string {
	helpText := `
  Usage: sge-autoscaler status [options]

    Queries a running sge-autoscaler agent and prints the autoscaled queue
    state along with the recently launched additional workers.

  General Options:

    -address=<http://addr:port>
      The address of the agent HTTP API. By default, this is
      http://127.0.0.1:8085.
`
	return strings.TrimSpace(helpText)
}

// Run executes the status command.
func (c *StatusCommand) Run(args []string) int {
	var address string

	flags := c.Meta.FlagSet("status", FlagSetClient)
	flags.Usage = func() { c.UI.Error(c.Help()) }
	flags.StringVar(&address, "address", "http://127.0.0.1:8085", "")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	client, err := api.NewClient(address)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error setting up the API client: %s", err))
		return 1
	}

	status, err := client.Status()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error querying agent status: %s", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("Queue              = %s", status.Queue))
	c.UI.Output(fmt.Sprintf("Version            = %s", status.Version))
	c.UI.Output(fmt.Sprintf("Additional workers = %d/%d",
		len(status.AdditionalHosts), status.MaxAdditionalHosts))
	for _, host := range status.AdditionalHosts {
		c.UI.Output(fmt.Sprintf("  - %s", host))
	}

	workers, err := client.Workers()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error querying worker records: %s", err))
		return 1
	}

	if len(workers.Records) > 0 {
		c.UI.Output("Recent workers:")
		for _, record := range workers.Records {
			line := fmt.Sprintf("  #%d %s (%s)", record.ID, record.Name, record.InstanceType)
			if record.HasInsufficientInstanceCapacity {
				line += " [insufficient instance capacity]"
			}
			c.UI.Output(line)
		}
	}
	return 0
}

// Synopsis provides a brief summary of the status command.
func (c *StatusCommand) Synopsis() string {
	return "Displays the state of a running sge-autoscaler agent"
}
