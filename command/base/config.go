package base

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
)

// Default agent endpoints.
const (
	DefaultBindAddr = "127.0.0.1"
	DefaultHTTPPort = "8085"
)

// DefaultConfig returns a default configuration struct with sane defaults.
func DefaultConfig() *structs.Config {

	return &structs.Config{
		LogLevel:        "INFO",
		LogDir:          "/var/log",
		WorkDir:         "/tmp",
		BindAddress:     DefaultBindAddr,
		HTTPPort:        DefaultHTTPPort,
		PollingInterval: 10,

		Queue: &structs.QueueConfig{
			Name:            "main.q",
			HostlistName:    "@allhosts",
			GpuResourceName: client.DefaultGpuResourceName,
			MemResourceName: client.DefaultMemResourceName,
		},

		Scaling: &structs.ScalingConfig{
			MaxAdditionalHosts:         3,
			PriceType:                  structs.PriceTypeOnDemand,
			CmdTemplate:                "sleep infinity",
			OwnerParamName:             "CP_CAP_AUTOSCALE_OWNER",
			DescendingAutoscale:        true,
			ScaleUpStrategy:            "cpu-capacity",
			ScaleUpBatchSize:           1,
			ScaleDownBatchSize:         1,
			ScaleUpPollingDelay:        10,
			ScaleUpPollingTimeout:      900,
			ScaleUpUnavailabilityDelay: 1800,
			ScaleUpTimeout:             30,
			ScaleDownTimeout:           30,
			IdleTimeout:                30,
			TaggingActiveTimeout:       30,
		},

		Telemetry:    &structs.Telemetry{},
		Notification: &structs.Notification{},
	}
}

// DevConfig returns a configuration struct with sane defaults for
// development and testing purposes.
func DevConfig() *structs.Config {
	config := DefaultConfig()
	config.LogLevel = "DEBUG"
	config.PollingInterval = 5
	config.Scaling.ScaleUpPollingDelay = 1
	config.Scaling.ScaleUpPollingTimeout = 60
	return config
}

// InitializeClients completes the setup process for the executor, the grid
// engine and the pipeline API clients. Must be called after configuration
// merging is complete.
func InitializeClients(config *structs.Config) error {
	if config.APIEndpoint == "" {
		return fmt.Errorf("a pipeline API endpoint is required")
	}
	if config.APIToken == "" {
		return fmt.Errorf("a pipeline API token is required")
	}

	config.Executor = client.NewCmdExecutor()
	config.API = client.NewPipelineAPI(config.APIEndpoint, config.APIToken)
	config.GridEngine = client.NewGridEngine(config.Executor, client.GridEngineConfig{
		Queue:           config.Queue.Name,
		Hostlist:        config.Queue.HostlistName,
		QueueDefault:    config.Queue.Default,
		GpuResourceName: config.Queue.GpuResourceName,
		MemResourceName: config.Queue.MemResourceName,
	})

	return nil
}

// LoadConfig loads the configuration at the given path whether the specified
// path is an individual file or a directory of numerous configuration files.
func LoadConfig(path string) (*structs.Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return LoadConfigDir(path)
	}

	cleaned := filepath.Clean(path)
	config, err := ParseConfigFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("Error loading %s: %s", cleaned, err)
	}

	return config, nil
}

// LoadConfigDir loads all the configurations in the given directory in
// lexicographic order.
func LoadConfigDir(dir string) (*structs.Config, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf(
			"configuration path must be a directory: %s", dir)
	}

	var files []string
	err = nil
	for err != io.EOF {
		var fis []os.FileInfo
		fis, err = f.Readdir(128)
		if err != nil && err != io.EOF {
			return nil, err
		}

		for _, fi := range fis {

			// We do not wish to navigate directories.
			if fi.IsDir() {
				continue
			}

			// The autoscaler can only parse HCL, and therefore json files,
			// and so we ignore all other file extensions.
			name := fi.Name()
			skip := true
			if strings.HasSuffix(name, ".hcl") {
				skip = false
			} else if strings.HasSuffix(name, ".json") {
				skip = false
			}
			if skip {
				continue
			}

			path := filepath.Join(dir, name)
			files = append(files, path)
		}
	}

	// If there are no files, there is no need to continue and therefore we
	// exit quickly.
	if len(files) == 0 {
		return &structs.Config{}, nil
	}

	sort.Strings(files)

	var result *structs.Config

	for _, f := range files {
		config, err := ParseConfigFile(f)
		if err != nil {
			return nil, fmt.Errorf("Error loading %s: %s", f, err)
		}

		if result == nil {
			result = config
		} else {
			result = result.Merge(config)
		}
	}

	return result, nil
}
