package structs

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// Parameter is a single environment parameter the autoscaler understands.
type Parameter struct {
	Name string
	Help string
}

// ParameterGroup is a named set of environment parameters.
type ParameterGroup struct {
	Name       string
	Parameters []Parameter
}

// Parameters is the static registry of all environment parameters, grouped
// the way the launch system documents them. The registry drives both the
// agent help output and the environment configuration overlay.
var Parameters = []ParameterGroup{
	{
		Name: "Autoscaling",
		Parameters: []Parameter{
			{Name: "CP_CAP_AUTOSCALE", Help: "Enables autoscaling."},
			{Name: "CP_CAP_AUTOSCALE_WORKERS", Help: "Specifies a maximum number of autoscaling workers."},
			{Name: "CP_CAP_AUTOSCALE_INSTANCE_TYPE", Help: "Specifies worker instance type."},
			{Name: "CP_CAP_AUTOSCALE_INSTANCE_DISK", Help: "Specifies worker disk size."},
			{Name: "CP_CAP_AUTOSCALE_INSTANCE_IMAGE", Help: "Specifies worker docker image."},
			{Name: "CP_CAP_AUTOSCALE_PRICE_TYPE", Help: "Specifies worker price type."},
			{Name: "CP_CAP_AUTOSCALE_CMD_TEMPLATE", Help: "Specifies worker cmd template."},
			{Name: "CP_CAP_AUTOSCALE_HYBRID", Help: "Enables hybrid autoscaling."},
			{Name: "CP_CAP_AUTOSCALE_HYBRID_FAMILY", Help: "Specifies hybrid worker instance type family."},
			{Name: "CP_CAP_AUTOSCALE_HYBRID_MAX_CORE_PER_NODE", Help: "Specifies a maximum number of CPUs available on hybrid autoscaling workers."},
			{Name: "CP_CAP_AUTOSCALE_DESCENDING", Help: "Enables descending autoscaling which falls back to smaller instance types of the same family."},
			{Name: "CP_CAP_AUTOSCALE_SCALE_UP_STRATEGY", Help: "Specifies autoscaling strategy: cpu-capacity, naive-cpu-capacity or default."},
			{Name: "CP_CAP_AUTOSCALE_SCALE_UP_BATCH_SIZE", Help: "Specifies a maximum number of simultaneously scaling up workers."},
			{Name: "CP_CAP_AUTOSCALE_SCALE_UP_POLLING_DELAY", Help: "Specifies a status polling delay in seconds for workers scaling up."},
			{Name: "CP_CAP_AUTOSCALE_INSTANCE_UNAVAILABILITY_DELAY", Help: "Specifies a delay in seconds to temporary avoid unavailable instance types usage."},
			{Name: "CP_CAP_AUTOSCALE_SCALE_DOWN_BATCH_SIZE", Help: "Specifies a maximum number of simultaneously scaling down workers."},
			{Name: "CP_CAP_AUTOSCALE_IDLE_TIMEOUT", Help: "Specifies a timeout in seconds after which an inactive worker is considered idled."},
			{Name: "CP_CAP_AUTOSCALE_ACTIVE_TIMEOUT", Help: "Specifies how many seconds must pass before a worker run is recognized as inactive for tagging."},
			{Name: "CP_CAP_AUTOSCALE_LOGDIR", Help: "Specifies logging directory."},
			{Name: "CP_CAP_AUTOSCALE_VERBOSE", Help: "Enables verbose logging."},
		},
	},
	{
		Name: "Advanced autoscaling",
		Parameters: []Parameter{
			{Name: "CP_CAP_AUTOSCALE_CLOUD_PROVIDER", Help: "Specifies worker cloud provider. Allowed values: AWS, GCP and AZURE."},
			{Name: "CP_CAP_AUTOSCALE_CLOUD_REGION_ID", Help: "Specifies cloud region id."},
			{Name: "CP_CAP_AUTOSCALE_OWNER_PARAMETER_NAME", Help: "Specifies worker parameter name which is used to specify an owner of a worker."},
			{Name: "CP_CAP_AUTOSCALE_WORKDIR", Help: "Specifies autoscaler working directory."},
		},
	},
	{
		Name: "Queue",
		Parameters: []Parameter{
			{Name: "CP_CAP_SGE_QUEUE_NAME", Help: "Specifies a name of a queue which is going to be autoscaled."},
			{Name: "CP_CAP_SGE_QUEUE_STATIC", Help: "Enables static queue processing."},
			{Name: "CP_CAP_SGE_QUEUE_DEFAULT", Help: "Enables default queue processing."},
			{Name: "CP_CAP_SGE_HOSTLIST_NAME", Help: "Specifies a name of a hostlist which is associated with the autoscaling queue."},
			{Name: "CP_CAP_SGE_WORKER_FREE_CORES", Help: "Specifies a number of free cores on workers."},
			{Name: "CP_CAP_SGE_MASTER_CORES", Help: "Specifies a number of available cores on a cluster manager."},
			{Name: "CP_CAP_GE_CONSUMABLE_RESOURCE_NAME_GPU", Help: "Specifies the grid engine consumable resource name for gpu requests."},
			{Name: "CP_CAP_GE_CONSUMABLE_RESOURCE_NAME_RAM", Help: "Specifies the grid engine consumable resource name for ram requests."},
		},
	},
}

// AllParameters flattens the registry sorted by parameter name, which is the
// order the agent help prints them in.
func AllParameters() []Parameter {
	var params []Parameter
	for _, group := range Parameters {
		params = append(params, group.Parameters...)
	}
	sort.Slice(params, func(i, j int) bool {
		return params[i].Name < params[j].Name
	})
	return params
}

// EnvConfig builds a configuration overlay from the process environment.
// The environment is the highest precedence configuration source so that the
// daemon stays drop-in compatible with launch system parameter injection.
func EnvConfig() *Config {
	config := &Config{
		APIEndpoint: os.Getenv("API"),
		APIToken:    os.Getenv("API_TOKEN"),
		LogDir:      os.Getenv("CP_CAP_AUTOSCALE_LOGDIR"),
		WorkDir:     os.Getenv("CP_CAP_AUTOSCALE_WORKDIR"),
		Queue: &QueueConfig{
			Name:            os.Getenv("CP_CAP_SGE_QUEUE_NAME"),
			Static:          envBool("CP_CAP_SGE_QUEUE_STATIC"),
			Default:         envBool("CP_CAP_SGE_QUEUE_DEFAULT"),
			HostlistName:    os.Getenv("CP_CAP_SGE_HOSTLIST_NAME"),
			HostsFreeCores:  envInt("CP_CAP_SGE_WORKER_FREE_CORES"),
			MasterCores:     envInt("CP_CAP_SGE_MASTER_CORES"),
			GpuResourceName: os.Getenv("CP_CAP_GE_CONSUMABLE_RESOURCE_NAME_GPU"),
			MemResourceName: os.Getenv("CP_CAP_GE_CONSUMABLE_RESOURCE_NAME_RAM"),
		},
		Scaling: &ScalingConfig{
			Enabled:                    envBool("CP_CAP_AUTOSCALE"),
			MaxAdditionalHosts:         envInt("CP_CAP_AUTOSCALE_WORKERS"),
			StaticHostsNumber:          envInt("node_count"),
			InstanceType:               envFirst("CP_CAP_AUTOSCALE_INSTANCE_TYPE", "instance_size"),
			StaticInstanceType:         os.Getenv("instance_size"),
			InstanceDisk:               envFirst("CP_CAP_AUTOSCALE_INSTANCE_DISK", "instance_disk"),
			InstanceImage:              envFirst("CP_CAP_AUTOSCALE_INSTANCE_IMAGE", "docker_image"),
			PriceType:                  envFirst("CP_CAP_AUTOSCALE_PRICE_TYPE", "price_type"),
			CmdTemplate:                os.Getenv("CP_CAP_AUTOSCALE_CMD_TEMPLATE"),
			CloudProvider:              envFirst("CP_CAP_AUTOSCALE_CLOUD_PROVIDER", "CLOUD_PROVIDER"),
			RegionID:                   envFirst("CP_CAP_AUTOSCALE_CLOUD_REGION_ID", "CLOUD_REGION_ID"),
			OwnerParamName:             os.Getenv("CP_CAP_AUTOSCALE_OWNER_PARAMETER_NAME"),
			ParentRunID:                os.Getenv("RUN_ID"),
			MasterHost:                 os.Getenv("HOSTNAME"),
			DefaultHostfile:            os.Getenv("DEFAULT_HOSTFILE"),
			HybridAutoscale:            envBool("CP_CAP_AUTOSCALE_HYBRID"),
			HybridInstanceFamily:       os.Getenv("CP_CAP_AUTOSCALE_HYBRID_FAMILY"),
			HybridInstanceCores:        envInt("CP_CAP_AUTOSCALE_HYBRID_MAX_CORE_PER_NODE"),
			DescendingAutoscale:        envBool("CP_CAP_AUTOSCALE_DESCENDING"),
			ScaleUpStrategy:            os.Getenv("CP_CAP_AUTOSCALE_SCALE_UP_STRATEGY"),
			ScaleUpBatchSize:           envInt("CP_CAP_AUTOSCALE_SCALE_UP_BATCH_SIZE"),
			ScaleDownBatchSize:         envInt("CP_CAP_AUTOSCALE_SCALE_DOWN_BATCH_SIZE"),
			ScaleUpPollingDelay:        envInt("CP_CAP_AUTOSCALE_SCALE_UP_POLLING_DELAY"),
			ScaleUpUnavailabilityDelay: envInt("CP_CAP_AUTOSCALE_INSTANCE_UNAVAILABILITY_DELAY"),
			IdleTimeout:                envInt("CP_CAP_AUTOSCALE_IDLE_TIMEOUT"),
			TaggingActiveTimeout:       envInt("CP_CAP_AUTOSCALE_ACTIVE_TIMEOUT"),
		},
		Telemetry:    &Telemetry{},
		Notification: &Notification{},
	}

	if envBool("CP_CAP_AUTOSCALE_VERBOSE") {
		config.LogLevel = "DEBUG"
	}

	return config
}

func envBool(name string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(name)), "true")
}

func envInt(name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return 0
	}
	return value
}

func envFirst(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
