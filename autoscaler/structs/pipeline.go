package structs

import "time"

// PipelineAPI exposes the Cloud Pipeline HTTP API operations used by the
// autoscaler.
type PipelineAPI interface {
	// LoadRun fetches a run object by id.
	LoadRun(runID int) (*PipelineRun, error)

	// LoadTask fetches the task entries of a run filtered by task name.
	LoadTask(runID int, task string) ([]RunTask, error)

	// UpdateRunTags replaces the tags of a run.
	UpdateRunTags(runID int, tags map[string]string) error

	// GetAllowedInstanceTypes lists the instance types allowed for worker
	// containers in a region and price category.
	GetAllowedInstanceTypes(regionID string, spot bool) ([]Instance, error)

	// RetrievePreference reads a server preference value, falling back to
	// the given default when the preference cannot be fetched.
	RetrievePreference(preference string, defaultValue string) string
}

// HostStorage tracks additional worker hosts together with the time of the
// last observed activity on each of them.
type HostStorage interface {
	// AddHost registers a new host. Registering an already known host is
	// an error.
	AddHost(host string) error

	// RemoveHost forgets a host. Removing an unknown host is an error.
	RemoveHost(host string) error

	// UpdateRunningJobsHostActivity stamps the activity of every host that
	// appears in the host lists of the given running jobs.
	UpdateRunningJobsHostActivity(runningJobs []*Job, timestamp time.Time) error

	// UpdateHostsActivity stamps the activity of the given hosts. Unknown
	// hosts are silently skipped.
	UpdateHostsActivity(hosts []string, timestamp time.Time) error

	// GetHostsActivity returns the last activity of each given host.
	// Requesting an unknown host is an error.
	GetHostsActivity(hosts []string) (map[string]time.Time, error)

	// LoadHosts lists all known hosts.
	LoadHosts() ([]string, error)

	// Clear forgets all hosts.
	Clear() error
}
