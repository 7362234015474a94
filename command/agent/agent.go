package agent

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	metrics "github.com/armon/go-metrics"

	"github.com/epam/sge-autoscaler/autoscaler"
	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/cloud"
	"github.com/epam/sge-autoscaler/command"
	"github.com/epam/sge-autoscaler/command/base"
	"github.com/epam/sge-autoscaler/logging"
	"github.com/epam/sge-autoscaler/notifier"
	"github.com/epam/sge-autoscaler/storage"
	"github.com/epam/sge-autoscaler/version"
)

// Command is the agent command structure used to track passed args as well
// as the CLI meta.
type Command struct {
	command.Meta
	args []string

	notifiers      []notifier.Notifier
	hookRegistered bool
}

// Run triggers a run of the autoscaler agent by setting up and parsing the
// configuration and then initiating a new runner.
func (c *Command) Run(args []string) int {

	c.args = args
	conf := c.parseFlags()
	if conf == nil {
		return 1
	}

	if err := c.initializeAgent(conf); err != nil {
		logging.Error("command/agent: unable to initialize agent: %v", err)
		return 1
	}

	runner, httpServer, err := c.setupRunner(conf)
	if err != nil {
		logging.Error("command/agent: unable to initialize agent: %v", err)
		return 1
	}

	verb := "enabled"
	if !conf.Scaling.Enabled {
		verb = "disabled"
	}

	logging.Info("command/agent: running version %v", version.Get())
	logging.Info("command/agent: starting sge-autoscaler agent for queue %s...",
		conf.Queue.Name)
	logging.Info("command/agent: sge-autoscaler is running with autoscaling %s", verb)

	go runner.Start()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	for {
		s := <-signalCh
		switch s {
		case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
			logging.Info("command/agent: caught signal %v", s)
			runner.Stop()
			httpServer.Shutdown()
			return 1

		case syscall.SIGHUP:
			logging.Info("command/agent: caught signal %v", s)
			runner.Stop()
			httpServer.Shutdown()

			// Reload the configuration in order to make proper use of
			// SIGHUP.
			config := c.parseFlags()
			if config == nil {
				return 1
			}

			if err := c.initializeAgent(config); err != nil {
				logging.Error("command/agent: unable to initialize agent: %v", err)
				return 1
			}

			// Setup a new runner with the new configuration.
			runner, httpServer, err = c.setupRunner(config)
			if err != nil {
				logging.Error("command/agent: unable to initialize agent: %v", err)
				return 1
			}

			go runner.Start()
		}
	}
}

func (c *Command) parseFlags() *structs.Config {

	var configPath string
	var dev bool

	// An empty new config is setup here to allow us to fill this with any
	// passed cli flags for later merging.
	cliConfig := &structs.Config{
		Queue:        &structs.QueueConfig{},
		Scaling:      &structs.ScalingConfig{},
		Telemetry:    &structs.Telemetry{},
		Notification: &structs.Notification{},
	}

	flags := c.Meta.FlagSet("agent", command.FlagSetClient)
	flags.Usage = func() { c.UI.Error(c.Help()) }

	flags.StringVar(&configPath, "config", "", "")
	flags.BoolVar(&dev, "dev", false, "")

	// Top level configuration flags
	flags.StringVar(&cliConfig.APIEndpoint, "api", "", "")
	flags.StringVar(&cliConfig.APIToken, "api-token", "", "")
	flags.StringVar(&cliConfig.LogLevel, "log-level", "", "")
	flags.StringVar(&cliConfig.WorkDir, "work-dir", "", "")
	flags.StringVar(&cliConfig.BindAddress, "bind-address", "", "")
	flags.StringVar(&cliConfig.HTTPPort, "http-port", "", "")
	flags.IntVar(&cliConfig.PollingInterval, "polling-interval", 0, "")

	// Queue configuration flags
	flags.StringVar(&cliConfig.Queue.Name, "queue", "", "")
	flags.StringVar(&cliConfig.Queue.HostlistName, "hostlist", "", "")

	// Scaling configuration flags
	flags.BoolVar(&cliConfig.Scaling.Enabled, "autoscale", false, "")
	flags.IntVar(&cliConfig.Scaling.MaxAdditionalHosts, "max-additional-hosts", 0, "")
	flags.StringVar(&cliConfig.Scaling.InstanceType, "instance-type", "", "")

	// Telemetry configuration flags
	flags.StringVar(&cliConfig.Telemetry.StatsdAddress, "statsd-address", "", "")

	// Notification configuration flags
	flags.StringVar(&cliConfig.Notification.ClusterIdentifier, "cluster-identifier", "", "")
	flags.StringVar(&cliConfig.Notification.PagerDutyServiceKey, "pagerduty-service-key", "", "")

	if err := flags.Parse(c.args); err != nil {
		return nil
	}

	// Depending on the flags provided (if any) we load a default
	// configuration which will be the basis for all merging.
	var config *structs.Config

	if dev {
		config = base.DevConfig()
	} else {
		config = base.DefaultConfig()
	}

	if configPath != "" {
		current, err := base.LoadConfig(configPath)
		if err != nil {
			c.UI.Error(fmt.Sprintf("Error loading configuration from %s: %s", configPath, err))
			return nil
		}

		config = config.Merge(current)
	}

	config = config.Merge(cliConfig)

	// The environment overlay stays on top so the daemon remains drop-in
	// compatible with launch system parameter injection.
	config = config.Merge(structs.EnvConfig())
	return config
}

// setupTelemetry is used to setup the autoscaler telemetry.
func (c *Command) setupTelemetry(config *structs.Telemetry) error {

	// Setup telemetry to aggregate on 10 second intervals for 1 minute.
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)

	var telemetry *structs.Telemetry
	if config == nil {
		telemetry = &structs.Telemetry{}
	} else {
		telemetry = config
	}

	metricsConf := metrics.DefaultConfig("sge-autoscaler")

	var fanout metrics.FanoutSink

	// Configure the statsd sink
	if telemetry.StatsdAddress != "" {
		sink, err := metrics.NewStatsdSink(telemetry.StatsdAddress)
		if err != nil {
			return err
		}
		fanout = append(fanout, sink)
	}

	// Initialize the global sink
	if len(fanout) > 0 {
		fanout = append(fanout, inm)
		metrics.NewGlobal(metricsConf, fanout)
	} else {
		metricsConf.EnableHostname = false
		metrics.NewGlobal(metricsConf, inm)
	}
	return nil
}

// setupNotifier is used to setup the autoscaler notification providers and
// relay crucial log messages to them.
func (c *Command) setupNotifier(config *structs.Config) error {

	c.notifiers = nil

	// Configure the PagerDuty notifier.
	if config.Notification.PagerDutyServiceKey != "" {

		p := make(map[string]string)
		p["PagerDutyServiceKey"] = config.Notification.PagerDutyServiceKey
		pd, err := notifier.NewProvider("pagerduty", p)
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, pd)
	}

	if c.hookRegistered {
		return nil
	}
	c.hookRegistered = true

	clusterIdentifier := config.Notification.ClusterIdentifier
	queue := config.Queue.Name
	logging.RegisterCrucialHook(func(message string) {
		for _, n := range c.notifiers {
			n.SendNotification(notifier.FailureMessage{
				ClusterIdentifier: clusterIdentifier,
				Queue:             queue,
				Reason:            message,
			})
		}
	})
	return nil
}

// initializeAgent sets up a number of configuration clients which depend on
// the merged configuration.
func (c *Command) initializeAgent(config *structs.Config) error {

	// Setup telemetry
	if err := c.setupTelemetry(config.Telemetry); err != nil {
		return err
	}

	// Setup notifiers
	if err := c.setupNotifier(config); err != nil {
		return err
	}

	// Setup logging
	logging.SetLevel(config.LogLevel)
	if err := c.setupLogFile(config); err != nil {
		return err
	}

	// Setup the executor, grid engine and pipeline API clients
	return base.InitializeClients(config)
}

// setupLogFile tees the log output into a per queue file under the
// configured logging directory.
func (c *Command) setupLogFile(config *structs.Config) error {
	if config.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	logFile := filepath.Join(config.LogDir,
		fmt.Sprintf(".autoscaler.%s.log", config.Queue.Name))
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	logging.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// setupRunner builds the full scaling object graph out of the merged
// configuration and returns the daemon runner along with the agent HTTP
// server.
func (c *Command) setupRunner(config *structs.Config) (*autoscaler.Runner, *HTTPServer, error) {
	clock := structs.SystemClock{}
	scaling := config.Scaling
	queue := config.Queue

	launcher := client.NewWorkerLauncher(config.Executor)
	recorder := autoscaler.NewPipelineWorkerRecorder(config.API)

	cloudProvider, err := cloud.ParseProvider(scaling.CloudProvider)
	if err != nil {
		return nil, nil, err
	}

	// Non autoscaling mode keeps the daemon running for activity tracking
	// and tagging but never launches a worker.
	maxAdditionalHosts := scaling.MaxAdditionalHosts
	if !scaling.Enabled {
		logging.Info("command/agent: using non autoscaling mode...")
		maxAdditionalHosts = 0
	}

	hybridFamily := scaling.HybridInstanceFamily
	if scaling.HybridAutoscale && hybridFamily == "" {
		hybridFamily = cloud.ExtractFamily(cloudProvider, scaling.InstanceType)
	}

	baseProvider := cloud.NewPipelineInstanceProvider(config.API, scaling.RegionID,
		scaling.PriceType)
	instanceProvider, err := cloud.NewInstanceProvider(baseProvider, cloud.ProviderConfig{
		CloudProvider:           cloudProvider,
		InstanceType:            scaling.InstanceType,
		HybridAutoscale:         scaling.HybridAutoscale,
		HybridInstanceFamily:    hybridFamily,
		HybridInstanceCores:     scaling.HybridInstanceCores,
		DescendingAutoscale:     scaling.DescendingAutoscale,
		UnavailabilityDelaySecs: scaling.ScaleUpUnavailabilityDelay,
	}, recorder, clock)
	if err != nil {
		return nil, nil, err
	}

	reservedSupply := structs.ResourceSupply{CPU: queue.HostsFreeCores}
	reservedDemand := structs.FractionalDemand(queue.HostsFreeCores, 0, 0, "")

	instances, err := instanceProvider.Provide()
	if err != nil {
		return nil, nil, err
	}
	if len(instances) == 0 {
		return nil, nil, fmt.Errorf("no allowed instance types match the "+
			"configured instance type %s", scaling.InstanceType)
	}
	biggestInstance := instances[0]
	for _, instance := range instances[1:] {
		if instance.CPU > biggestInstance.CPU {
			biggestInstance = instance
		}
	}

	staticInstanceType := scaling.StaticInstanceType
	if staticInstanceType == "" {
		staticInstanceType = scaling.InstanceType
	}
	staticInstances, err := cloud.NewDefaultInstanceProvider(baseProvider,
		staticInstanceType).Provide()
	if err != nil {
		return nil, nil, err
	}
	staticInstanceSupply := structs.ResourceSupply{}
	if len(staticInstances) > 0 {
		staticInstanceSupply = structs.SupplyOf(staticInstances[0]).Sub(reservedDemand)
	}

	masterCores := queue.MasterCores
	if masterCores == 0 {
		masterCores = runtime.NumCPU()
	}
	effectiveMasterCores := masterCores - queue.HostsFreeCores
	if effectiveMasterCores <= 0 {
		effectiveMasterCores = masterCores
	}
	masterInstanceSupply := structs.ResourceSupply{
		CPU: effectiveMasterCores,
		GPU: staticInstanceSupply.GPU,
		Mem: staticInstanceSupply.Mem,
	}

	biggestInstanceSupply := structs.SupplyOf(biggestInstance).Sub(reservedDemand)
	clusterSupply := biggestInstanceSupply.Mul(maxAdditionalHosts)
	if queue.Static {
		clusterSupply = clusterSupply.Add(masterInstanceSupply).
			Add(staticInstanceSupply.Mul(scaling.StaticHostsNumber))
	}

	// Scheduler level thresholds may be managed centrally; the local
	// configuration values act as defaults.
	scaleUpTimeout := retrieveIntPreference(config.API,
		"ge.autoscaling.scale.up.timeout", scaling.ScaleUpTimeout)
	scaleDownTimeout := retrieveIntPreference(config.API,
		"ge.autoscaling.scale.down.timeout", scaling.ScaleDownTimeout)
	scaleUpPollingTimeout := retrieveIntPreference(config.API,
		"ge.autoscaling.scale.up.polling.timeout", scaling.ScaleUpPollingTimeout)

	hostStorage := storage.NewThreadSafeHostStorage(storage.NewFileSystemHostStorage(
		filepath.Join(config.WorkDir, fmt.Sprintf(".autoscaler.%s.storage", queue.Name)),
		clock))
	staticHostStorage := storage.NewFileSystemHostStorage(
		filepath.Join(config.WorkDir, fmt.Sprintf(".static.%s.storage", queue.Name)),
		clock)

	taggingActiveTimeout := time.Duration(scaling.TaggingActiveTimeout) * time.Second
	storage.InitStaticHosts(scaling.DefaultHostfile, staticHostStorage, clock,
		taggingActiveTimeout, queue.Static && scaling.StaticHostsNumber > 0,
		scaling.MasterHost)

	parentRunID, err := strconv.Atoi(scaling.ParentRunID)
	if err != nil {
		return nil, nil, fmt.Errorf("a numeric parent run id is required, got %q",
			scaling.ParentRunID)
	}
	launchSystemParams, err := client.FetchInstanceLaunchParams(config.API,
		os.Getenv, parentRunID, queue.Name, queue.HostlistName)
	if err != nil {
		return nil, nil, err
	}

	c.logInventory(config, staticHostStorage, instances, staticInstanceSupply,
		masterInstanceSupply)

	workerTagsHandler := autoscaler.NewWorkerTagsHandler(config.API,
		taggingActiveTimeout, hostStorage, staticHostStorage, clock)

	scaleUpHandler := autoscaler.NewScaleUpHandler(autoscaler.ScaleUpHandlerConfig{
		Launcher:    launcher,
		API:         config.API,
		GridEngine:  config.GridEngine,
		HostStorage: hostStorage,
		LaunchParams: client.LaunchParams{
			InstanceDisk:       scaling.InstanceDisk,
			InstanceImage:      scaling.InstanceImage,
			CmdTemplate:        scaling.CmdTemplate,
			ParentRunID:        scaling.ParentRunID,
			PriceType:          scaling.PriceType,
			RegionID:           scaling.RegionID,
			LaunchSystemParams: launchSystemParams,
		},
		OwnerParamName:   scaling.OwnerParamName,
		PollingTimeout:   time.Duration(scaleUpPollingTimeout) * time.Second,
		PollingDelay:     time.Duration(scaling.ScaleUpPollingDelay) * time.Second,
		GEPollingTimeout: 60 * time.Second,
		Clock:            clock,
	})

	instanceSelector := autoscaler.NewInstanceSelector(scaling.ScaleUpStrategy,
		instanceProvider, reservedSupply, scaling.ScaleUpBatchSize)

	scaleUpOrchestrator := autoscaler.NewScaleUpOrchestrator(autoscaler.ScaleUpOrchestratorConfig{
		Handler:           scaleUpHandler,
		GridEngine:        config.GridEngine,
		HostStorage:       hostStorage,
		StaticHostStorage: staticHostStorage,
		WorkerTagsHandler: workerTagsHandler,
		InstanceSelector:  instanceSelector,
		WorkerRecorder:    recorder,
		BatchSize:         scaling.ScaleUpBatchSize,
		PollingDelay:      time.Duration(scaling.ScaleUpPollingDelay) * time.Second,
		Clock:             clock,
	})

	scaleDownHandler := autoscaler.NewScaleDownHandler(launcher, config.GridEngine)
	scaleDownOrchestrator := autoscaler.NewScaleDownOrchestrator(scaleDownHandler,
		config.GridEngine, hostStorage, scaling.ScaleDownBatchSize)

	workerValidator := autoscaler.NewWorkerValidator(launcher, config.API,
		hostStorage, config.GridEngine)

	jobValidator := autoscaler.NewJobValidator(config.GridEngine,
		biggestInstanceSupply, clusterSupply)
	demandSelector := autoscaler.NewDemandSelector(config.GridEngine)

	scaler := autoscaler.NewAutoscaler(autoscaler.AutoscalerConfig{
		GridEngine:            config.GridEngine,
		JobValidator:          jobValidator,
		DemandSelector:        demandSelector,
		ScaleUpOrchestrator:   scaleUpOrchestrator,
		ScaleDownOrchestrator: scaleDownOrchestrator,
		HostStorage:           hostStorage,
		StaticHostStorage:     staticHostStorage,
		ScaleUpTimeout:        time.Duration(scaleUpTimeout) * time.Second,
		ScaleDownTimeout:      time.Duration(scaleDownTimeout) * time.Second,
		IdleTimeout:           time.Duration(scaling.IdleTimeout) * time.Second,
		MaxAdditionalHosts:    maxAdditionalHosts,
		Clock:                 clock,
	})

	runner := autoscaler.NewRunner(scaler, workerValidator, workerTagsHandler,
		time.Duration(config.PollingInterval)*time.Second)

	httpServer, err := NewHTTPServer(&StatusSource{
		Config:      config,
		HostStorage: hostStorage,
		Recorder:    recorder,
		Version:     version.Get(),
	}, config)
	if err != nil {
		return nil, nil, err
	}

	return runner, httpServer, nil
}

// logInventory prints the static worker and instance type inventories the
// daemon starts with.
func (c *Command) logInventory(config *structs.Config, staticHostStorage structs.HostStorage,
	instances []structs.Instance, staticInstanceSupply,
	masterInstanceSupply structs.ResourceSupply) {

	if config.Queue.Static {
		lines := []string{fmt.Sprintf("- %s (%d cpu, %d gpu, %d mem)",
			config.Scaling.MasterHost, masterInstanceSupply.CPU,
			masterInstanceSupply.GPU, masterInstanceSupply.Mem)}
		if staticHosts, err := staticHostStorage.LoadHosts(); err == nil {
			for _, host := range staticHosts {
				if host == config.Scaling.MasterHost {
					continue
				}
				lines = append(lines, fmt.Sprintf("- %s (%d cpu, %d gpu, %d mem)",
					host, staticInstanceSupply.CPU, staticInstanceSupply.GPU,
					staticInstanceSupply.Mem))
			}
		}
		logging.Info("command/agent: using static workers:\n%s", strings.Join(lines, "\n"))
	}

	lines := make([]string, 0, len(instances))
	for _, instance := range instances {
		lines = append(lines, fmt.Sprintf("- %s (%d cpu, %d gpu, %d mem)",
			instance.Name, instance.CPU, instance.GPU, instance.Mem))
	}
	logging.Info("command/agent: using autoscaling instance types:\n%s",
		strings.Join(lines, "\n"))
}

func retrieveIntPreference(api structs.PipelineAPI, preference string, defaultValue int) int {
	raw := api.RetrievePreference(preference, strconv.Itoa(defaultValue))
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logging.Warning("command/agent: preference %s value %q is not numeric, "+
			"using default %d", preference, raw, defaultValue)
		return defaultValue
	}
	return value
}

// Help provides the help information for the agent command.
func (c *Command) Help() string {
	helpText := `
  Usage: sge-autoscaler agent [options]

    Starts the sge-autoscaler agent and runs until an interrupt is received.
    The agent's configuration primarily comes from the config files used. If
    no config file is passed, a default config will be used. Every launch
    system environment parameter listed below overrides the corresponding
    configuration entry.

  General Options:

    -api=<url>
      The URL of the Cloud Pipeline API used to launch and inspect worker
      runs.

    -api-token=<token>
      The bearer token used to authenticate Cloud Pipeline API requests.

    -autoscale
      Passing this flag enables autoscaling. Without it the agent keeps
      tracking host activity and run tags but never scales.

    -bind-address=<address>
      The address the agent HTTP API listens on. By default, this is
      127.0.0.1.

    -config=<path>
      The path to either a single config file or a directory of config
      files to use for configuring the agent. The agent processes
      configuration files in lexicographic order.

    -dev
      Start the agent in development mode. This runs the agent with a
      configuration which is ideal for development or local testing.

    -hostlist=<name>
      The name of the hostlist associated with the autoscaled queue. By
      default, this is @allhosts.

    -http-port=<port>
      The port the agent HTTP API listens on. By default, this is 8085.

    -instance-type=<type>
      The default worker instance type.

    -log-level=<level>
      Specify the verbosity level of the agent's logs. The default is INFO.

    -max-additional-hosts=<num>
      The maximum number of additional workers the autoscaler can keep
      running at once.

    -polling-interval=<seconds>
      The time period in seconds between daemon ticks and thus scaling
      requirement checks.

    -queue=<name>
      The name of the grid engine queue which is going to be autoscaled. By
      default, this is main.q.

    -work-dir=<path>
      The directory host storage files are kept in. By default, this is
      /tmp.

  Telemetry Options:

    -statsd-address=<address:port>
      Specifies the address of a statsd server to forward metrics to and
      should include the port.

  Notifications Options:

    -cluster-identifier=<name>
      A human readable cluster name to allow operators to quickly identify
      which cluster is alerting.

    -pagerduty-service-key=<key>
      The PagerDuty integration key which has been setup to allow the
      autoscaler to send events.

  Environment Parameters:

` + formatParameters()
	return strings.TrimSpace(helpText)
}

// formatParameters renders the environment parameter registry for the help
// output.
func formatParameters() string {
	var b strings.Builder
	for _, param := range structs.AllParameters() {
		fmt.Fprintf(&b, "    %s\n      %s\n\n", param.Name, param.Help)
	}
	return b.String()
}

// Synopsis provides a brief summary of the agent command.
func (c *Command) Synopsis() string {
	return "Runs a sge-autoscaler agent"
}
