package command

import (
	"fmt"
	"os"
	"strings"
)

// DefaultInitName is the default name we use when initializing the example
// configuration file.
const DefaultInitName = "sge-autoscaler.hcl"

// InitCommand generates a new configuration file that can be used to further
// understand the autoscaler configuration format.
type InitCommand struct {
	Meta
}

// Help provides the help information for the init command.
func (c *InitCommand) Help() string {
	helpText := `
  Usage: sge-autoscaler init

    Creates an example configuration file that can be used as a starting
    point to customize further.
`
	return strings.TrimSpace(helpText)
}

// Run triggers the init command to write the example configuration file to
// the current directory.
func (c *InitCommand) Run(args []string) int {
	// Check for misuse
	if len(args) != 0 {
		c.UI.Error(c.Help())
		return 1
	}

	// Check if the file already exists
	_, err := os.Stat(DefaultInitName)
	if err != nil && !os.IsNotExist(err) {
		c.UI.Error(fmt.Sprintf("Failed to stat %q: %v", DefaultInitName, err))
		return 1
	}
	if !os.IsNotExist(err) {
		c.UI.Error(fmt.Sprintf("Configuration file %q already exists", DefaultInitName))
		return 1
	}

	// Write out the example
	err = os.WriteFile(DefaultInitName, []byte(defaultConfig), 0660)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to write %q: %v", DefaultInitName, err))
		return 1
	}

	// Success
	c.UI.Output(fmt.Sprintf("Example configuration file written to %s", DefaultInitName))
	return 0
}

// Synopsis provides a brief summary of the init command.
func (c *InitCommand) Synopsis() string {
	return "Creates an example autoscaler configuration file"
}

var defaultConfig = strings.TrimSpace(`
api       = "https://pipeline.example.com/pipeline/restapi"
api_token = "<token>"
log_level = "INFO"
work_dir  = "/tmp"
log_dir   = "/var/log"

polling_interval = 10

queue {
  name          = "main.q"
  default       = true
  hostlist_name = "@allhosts"
  master_cores  = 2
}

scaling {
  enabled              = true
  max_additional_hosts = 3
  instance_type        = "m5.large"
  instance_disk        = "20"
  instance_image       = "library/centos:7"
  price_type           = "on_demand"
  cmd_template         = "sleep infinity"
  cloud_provider       = "AWS"
  region_id            = "1"
  parent_run_id        = "1234"

  scale_up_timeout    = 30
  scale_down_timeout  = 30
  idle_timeout        = 30
  scale_up_batch_size = 1
}

telemetry {
  statsd_address = "127.0.0.1:8125"
}

notification {
  cluster_identifier    = "sge-prod"
  pagerduty_service_key = "<service-key>"
}
`) + "\n"
