package structs

// Config is the main configuration struct used to configure the autoscaler
// application.
type Config struct {
	// APIEndpoint is the URL of the Cloud Pipeline API the autoscaler
	// launches and inspects worker runs through.
	APIEndpoint string `mapstructure:"api"`

	// APIToken is the bearer token used to authenticate API requests.
	APIToken string `mapstructure:"api_token"`

	// LogLevel is the level at which the application should log from.
	LogLevel string `mapstructure:"log_level"`

	// LogDir is the directory autoscaler log files are written under.
	LogDir string `mapstructure:"log_dir"`

	// WorkDir is the directory host storage files are kept in.
	WorkDir string `mapstructure:"work_dir"`

	// BindAddress is the address the agent HTTP API listens on.
	BindAddress string `mapstructure:"bind_address"`

	// HTTPPort is the port the agent HTTP API listens on.
	HTTPPort string `mapstructure:"http_port"`

	// PollingInterval is the duration in seconds between daemon ticks and
	// thus scaling requirement checks.
	PollingInterval int `mapstructure:"polling_interval"`

	// Queue is the configuration struct describing the autoscaled grid
	// engine queue.
	Queue *QueueConfig `mapstructure:"queue"`

	// Scaling is the configuration struct that controls worker scaling.
	Scaling *ScalingConfig `mapstructure:"scaling"`

	// Telemetry is the configuration struct that controls the telemetry
	// settings.
	Telemetry *Telemetry `mapstructure:"telemetry"`

	// Notification is the configuration struct that controls operator
	// notifications for crucial events.
	Notification *Notification `mapstructure:"notification"`

	// Executor runs all external subprocesses.
	Executor CmdExecutor `mapstructure:"-"`

	// GridEngine provides a client to interact with the grid engine CLI.
	GridEngine GridEngine `mapstructure:"-"`

	// API provides a client to interact with the Cloud Pipeline API.
	API PipelineAPI `mapstructure:"-"`
}

// QueueConfig describes the grid engine queue a daemon instance autoscales.
// One daemon process manages exactly one queue.
type QueueConfig struct {
	// Name is the name of the queue which is going to be autoscaled.
	Name string `mapstructure:"name"`

	// Static enables static queue processing. If enabled then all static
	// workers are considered to be part of this queue.
	Static bool `mapstructure:"static"`

	// Default enables default queue processing. If enabled then all jobs
	// without a hard queue requirement are considered to be part of this
	// queue.
	Default bool `mapstructure:"default"`

	// HostlistName is the name of the hostlist associated with the queue.
	HostlistName string `mapstructure:"hostlist_name"`

	// HostsFreeCores is the number of cores kept free on workers.
	HostsFreeCores int `mapstructure:"hosts_free_cores"`

	// MasterCores is the number of available cores on the cluster master.
	MasterCores int `mapstructure:"master_cores"`

	// GpuResourceName is the grid engine consumable used for gpu requests.
	GpuResourceName string `mapstructure:"gpu_resource_name"`

	// MemResourceName is the grid engine consumable used for ram requests.
	MemResourceName string `mapstructure:"mem_resource_name"`
}

// ScalingConfig is the configuration struct for additional worker scaling
// activities.
type ScalingConfig struct {
	// Enabled indicates whether autoscaling actions are permitted. When
	// disabled the daemon still tracks activity and tags but never scales.
	Enabled bool `mapstructure:"enabled"`

	// MaxAdditionalHosts is the maximum number of additional workers the
	// autoscaler can keep running at once.
	MaxAdditionalHosts int `mapstructure:"max_additional_hosts"`

	// StaticHostsNumber is the number of static workers provisioned at
	// cluster start.
	StaticHostsNumber int `mapstructure:"static_hosts_number"`

	// InstanceType is the default worker instance type.
	InstanceType string `mapstructure:"instance_type"`

	// StaticInstanceType is the instance type of static workers.
	StaticInstanceType string `mapstructure:"static_instance_type"`

	// InstanceDisk is the worker disk size in gigabytes.
	InstanceDisk string `mapstructure:"instance_disk"`

	// InstanceImage is the worker docker image.
	InstanceImage string `mapstructure:"instance_image"`

	// PriceType is the worker price type, either on_demand or spot.
	PriceType string `mapstructure:"price_type"`

	// CmdTemplate is the worker cmd template.
	CmdTemplate string `mapstructure:"cmd_template"`

	// CloudProvider is the worker cloud provider: AWS, GCP or AZURE.
	CloudProvider string `mapstructure:"cloud_provider"`

	// RegionID is the cloud region id workers are launched in.
	RegionID string `mapstructure:"region_id"`

	// OwnerParamName is the run parameter name used to record the worker
	// owner for billing.
	OwnerParamName string `mapstructure:"owner_param_name"`

	// ParentRunID is the id of the master run additional workers attach to.
	ParentRunID string `mapstructure:"parent_run_id"`

	// MasterHost is the hostname of the cluster master node.
	MasterHost string `mapstructure:"master_host"`

	// DefaultHostfile is the master hosts file new workers are appended to.
	DefaultHostfile string `mapstructure:"default_hostfile"`

	// HybridAutoscale enables hybrid autoscaling over an instance family.
	HybridAutoscale bool `mapstructure:"hybrid_autoscale"`

	// HybridInstanceFamily restricts hybrid autoscaling to a family.
	HybridInstanceFamily string `mapstructure:"hybrid_instance_family"`

	// HybridInstanceCores caps the size of hybrid autoscaling instances.
	HybridInstanceCores int `mapstructure:"hybrid_instance_cores"`

	// DescendingAutoscale enables falling back to smaller instance types
	// of the same family when the default type is unavailable.
	DescendingAutoscale bool `mapstructure:"descending_autoscale"`

	// ScaleUpStrategy selects the instance selection policy: cpu-capacity,
	// naive-cpu-capacity or default.
	ScaleUpStrategy string `mapstructure:"scale_up_strategy"`

	// ScaleUpBatchSize is the maximum number of simultaneously scaling up
	// workers.
	ScaleUpBatchSize int `mapstructure:"scale_up_batch_size"`

	// ScaleDownBatchSize is the maximum number of simultaneously scaling
	// down workers.
	ScaleDownBatchSize int `mapstructure:"scale_down_batch_size"`

	// ScaleUpPollingDelay is the status polling delay in seconds while
	// workers scale up.
	ScaleUpPollingDelay int `mapstructure:"scale_up_polling_delay"`

	// ScaleUpPollingTimeout is the readiness polling timeout in seconds
	// for a single worker scale up.
	ScaleUpPollingTimeout int `mapstructure:"scale_up_polling_timeout"`

	// ScaleUpUnavailabilityDelay is the number of seconds an instance type
	// is avoided after a cloud capacity error.
	ScaleUpUnavailabilityDelay int `mapstructure:"scale_up_unavailability_delay"`

	// ScaleUpTimeout is the number of seconds a job must wait in queue
	// before the autoscaler scales up.
	ScaleUpTimeout int `mapstructure:"scale_up_timeout"`

	// ScaleDownTimeout is the number of seconds since the latest running
	// job started after which, with no jobs waiting, the autoscaler scales
	// down.
	ScaleDownTimeout int `mapstructure:"scale_down_timeout"`

	// IdleTimeout is the number of seconds a worker must be inactive
	// before it becomes a scale down candidate.
	IdleTimeout int `mapstructure:"idle_timeout"`

	// TaggingActiveTimeout is the number of seconds of inactivity after
	// which a worker run loses its in-use tag.
	TaggingActiveTimeout int `mapstructure:"tagging_active_timeout"`
}

// Telemetry is the struct that controls the telemetry configuration. If a
// value is present then telemetry is enabled. Currently statsd is the only
// supported sink.
type Telemetry struct {
	// StatsdAddress specifies the address of a statsd server to forward
	// metrics to and should include the port.
	StatsdAddress string `mapstructure:"statsd_address"`
}

// Notification is the struct that controls the notification configuration.
type Notification struct {
	// ClusterIdentifier is a human readable cluster name to allow
	// operators to quickly identify which cluster is alerting.
	ClusterIdentifier string `mapstructure:"cluster_identifier"`

	// PagerDutyServiceKey is the PagerDuty integration key which has been
	// set up to allow the autoscaler to send events.
	PagerDutyServiceKey string `mapstructure:"pagerduty_service_key"`
}

// Merge merges two configurations.
func (c *Config) Merge(b *Config) *Config {
	config := *c

	if b.APIEndpoint != "" {
		config.APIEndpoint = b.APIEndpoint
	}

	if b.APIToken != "" {
		config.APIToken = b.APIToken
	}

	if b.LogLevel != "" {
		config.LogLevel = b.LogLevel
	}

	if b.LogDir != "" {
		config.LogDir = b.LogDir
	}

	if b.WorkDir != "" {
		config.WorkDir = b.WorkDir
	}

	if b.BindAddress != "" {
		config.BindAddress = b.BindAddress
	}

	if b.HTTPPort != "" {
		config.HTTPPort = b.HTTPPort
	}

	if b.PollingInterval > 0 {
		config.PollingInterval = b.PollingInterval
	}

	// Apply the Queue config
	if config.Queue == nil && b.Queue != nil {
		queue := *b.Queue
		config.Queue = &queue
	} else if b.Queue != nil {
		config.Queue = config.Queue.Merge(b.Queue)
	}

	// Apply the Scaling config
	if config.Scaling == nil && b.Scaling != nil {
		scaling := *b.Scaling
		config.Scaling = &scaling
	} else if b.Scaling != nil {
		config.Scaling = config.Scaling.Merge(b.Scaling)
	}

	// Apply the Telemetry config
	if config.Telemetry == nil && b.Telemetry != nil {
		telemetry := *b.Telemetry
		config.Telemetry = &telemetry
	} else if b.Telemetry != nil {
		config.Telemetry = config.Telemetry.Merge(b.Telemetry)
	}

	// Apply the Notification config
	if config.Notification == nil && b.Notification != nil {
		notification := *b.Notification
		config.Notification = &notification
	} else if b.Notification != nil {
		config.Notification = config.Notification.Merge(b.Notification)
	}

	return &config
}

// Merge is used to merge two QueueConfig configurations together.
func (q *QueueConfig) Merge(b *QueueConfig) *QueueConfig {
	config := *q

	if b.Name != "" {
		config.Name = b.Name
	}

	if b.Static {
		config.Static = b.Static
	}

	if b.Default {
		config.Default = b.Default
	}

	if b.HostlistName != "" {
		config.HostlistName = b.HostlistName
	}

	if b.HostsFreeCores != 0 {
		config.HostsFreeCores = b.HostsFreeCores
	}

	if b.MasterCores != 0 {
		config.MasterCores = b.MasterCores
	}

	if b.GpuResourceName != "" {
		config.GpuResourceName = b.GpuResourceName
	}

	if b.MemResourceName != "" {
		config.MemResourceName = b.MemResourceName
	}

	return &config
}

// Merge is used to merge two ScalingConfig configurations together.
func (s *ScalingConfig) Merge(b *ScalingConfig) *ScalingConfig {
	config := *s

	if b.Enabled {
		config.Enabled = b.Enabled
	}

	if b.MaxAdditionalHosts != 0 {
		config.MaxAdditionalHosts = b.MaxAdditionalHosts
	}

	if b.StaticHostsNumber != 0 {
		config.StaticHostsNumber = b.StaticHostsNumber
	}

	if b.InstanceType != "" {
		config.InstanceType = b.InstanceType
	}

	if b.StaticInstanceType != "" {
		config.StaticInstanceType = b.StaticInstanceType
	}

	if b.InstanceDisk != "" {
		config.InstanceDisk = b.InstanceDisk
	}

	if b.InstanceImage != "" {
		config.InstanceImage = b.InstanceImage
	}

	if b.PriceType != "" {
		config.PriceType = b.PriceType
	}

	if b.CmdTemplate != "" {
		config.CmdTemplate = b.CmdTemplate
	}

	if b.CloudProvider != "" {
		config.CloudProvider = b.CloudProvider
	}

	if b.RegionID != "" {
		config.RegionID = b.RegionID
	}

	if b.OwnerParamName != "" {
		config.OwnerParamName = b.OwnerParamName
	}

	if b.ParentRunID != "" {
		config.ParentRunID = b.ParentRunID
	}

	if b.MasterHost != "" {
		config.MasterHost = b.MasterHost
	}

	if b.DefaultHostfile != "" {
		config.DefaultHostfile = b.DefaultHostfile
	}

	if b.HybridAutoscale {
		config.HybridAutoscale = b.HybridAutoscale
	}

	if b.HybridInstanceFamily != "" {
		config.HybridInstanceFamily = b.HybridInstanceFamily
	}

	if b.HybridInstanceCores != 0 {
		config.HybridInstanceCores = b.HybridInstanceCores
	}

	if b.DescendingAutoscale {
		config.DescendingAutoscale = b.DescendingAutoscale
	}

	if b.ScaleUpStrategy != "" {
		config.ScaleUpStrategy = b.ScaleUpStrategy
	}

	if b.ScaleUpBatchSize != 0 {
		config.ScaleUpBatchSize = b.ScaleUpBatchSize
	}

	if b.ScaleDownBatchSize != 0 {
		config.ScaleDownBatchSize = b.ScaleDownBatchSize
	}

	if b.ScaleUpPollingDelay != 0 {
		config.ScaleUpPollingDelay = b.ScaleUpPollingDelay
	}

	if b.ScaleUpPollingTimeout != 0 {
		config.ScaleUpPollingTimeout = b.ScaleUpPollingTimeout
	}

	if b.ScaleUpUnavailabilityDelay != 0 {
		config.ScaleUpUnavailabilityDelay = b.ScaleUpUnavailabilityDelay
	}

	if b.ScaleUpTimeout != 0 {
		config.ScaleUpTimeout = b.ScaleUpTimeout
	}

	if b.ScaleDownTimeout != 0 {
		config.ScaleDownTimeout = b.ScaleDownTimeout
	}

	if b.IdleTimeout != 0 {
		config.IdleTimeout = b.IdleTimeout
	}

	if b.TaggingActiveTimeout != 0 {
		config.TaggingActiveTimeout = b.TaggingActiveTimeout
	}

	return &config
}

// Merge is used to merge two Telemetry configurations together.
func (t *Telemetry) Merge(b *Telemetry) *Telemetry {
	config := *t

	if b.StatsdAddress != "" {
		config.StatsdAddress = b.StatsdAddress
	}

	return &config
}

// Merge is used to merge two Notification configurations together.
func (n *Notification) Merge(b *Notification) *Notification {
	config := *n

	if b.ClusterIdentifier != "" {
		config.ClusterIdentifier = b.ClusterIdentifier
	}

	if b.PagerDutyServiceKey != "" {
		config.PagerDutyServiceKey = b.PagerDutyServiceKey
	}

	return &config
}
