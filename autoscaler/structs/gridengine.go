package structs

// CmdExecutor runs shell commands and captures their output. All grid
// engine, pipe CLI and shell helper invocations route through it so that
// tests can inject a scripted fake.
type CmdExecutor interface {
	// Execute runs a command through the shell and returns its stdout.
	// A non-zero exit code yields an *ExecutionError.
	Execute(command string) (string, error)

	// ExecuteToLines runs a command and returns its non-empty stdout lines.
	ExecuteToLines(command string) ([]string, error)
}

// GridEngine exposes all operations needed to observe the scheduler queue
// and to manage execution hosts.
type GridEngine interface {
	// GetJobs lists jobs of the configured queue, one job per array task.
	GetJobs() ([]*Job, error)

	// GetHostSupplies returns the free slot supply of every healthy host
	// serving the configured queue.
	GetHostSupplies() ([]ResourceSupply, error)

	// GetHostSupply returns the processor count of a single execution host.
	GetHostSupply(host string) ResourceSupply

	// GetPEAllocationRule looks up the allocation rule of a parallel
	// environment. Unset rules default to $pe_slots.
	GetPEAllocationRule(pe string) (AllocationRule, error)

	// DisableHost stops the queue instance on a host from accepting new
	// jobs. Running jobs are not aborted.
	DisableHost(host string) error

	// EnableHost makes the queue instance on a host available again.
	EnableHost(host string) error

	// DeleteHost removes a host from the grid engine configuration
	// entirely: execd shutdown, queue slot purge, hostgroup removal,
	// administrative host removal and host object deletion, in that order.
	DeleteHost(host string, skipOnFailure bool) error

	// IsValid checks that a host is a known execution host in a healthy
	// queue state.
	IsValid(host string) bool

	// KillJobs deletes the given jobs, optionally with force.
	KillJobs(jobs []*Job, force bool) error
}

// InstanceProvider enumerates candidate instance types for additional
// workers. Providers are composed as decorators: family filtering, size
// limiting, availability circuit breaking and ordering each wrap an inner
// provider.
type InstanceProvider interface {
	Provide() ([]Instance, error)
}

// InstanceSelector bin-packs resource demands onto instance types and
// yields one instance demand per worker to launch.
type InstanceSelector interface {
	Select(demands []ResourceDemand) ([]InstanceDemand, error)
}
