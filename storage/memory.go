// Package storage tracks additional worker hosts and the time of the last
// observed activity on each of them. Two storages exist at runtime: one for
// autoscaled additional workers and one for the static cluster members
// seeded at startup.
package storage

import (
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// MemoryHostStorage is an in-memory host storage. Host details are lost on
// autoscaler restart.
type MemoryHostStorage struct {
	hosts map[string]time.Time
	clock structs.Clock
}

// NewMemoryHostStorage returns an empty in-memory host storage.
func NewMemoryHostStorage(clock structs.Clock) *MemoryHostStorage {
	return &MemoryHostStorage{
		hosts: make(map[string]time.Time),
		clock: clock,
	}
}

// AddHost registers a new host stamped with the current time.
func (s *MemoryHostStorage) AddHost(host string) error {
	if _, ok := s.hosts[host]; ok {
		return structs.NewScalingError("host with name '%s' is already in the "+
			"host storage", host)
	}
	s.hosts[host] = s.clock.Now()
	return nil
}

// RemoveHost forgets a host.
func (s *MemoryHostStorage) RemoveHost(host string) error {
	if _, ok := s.hosts[host]; !ok {
		return hostMissingError(host)
	}
	delete(s.hosts, host)
	return nil
}

// UpdateRunningJobsHostActivity stamps the activity of every host that
// appears in the host lists of the given running jobs.
func (s *MemoryHostStorage) UpdateRunningJobsHostActivity(runningJobs []*structs.Job,
	timestamp time.Time) error {

	activeHosts := hostsOfJobs(runningJobs)
	if len(activeHosts) == 0 {
		return nil
	}
	return s.UpdateHostsActivity(activeHosts, timestamp)
}

// UpdateHostsActivity stamps the activity of the given hosts. Unknown hosts
// are silently skipped.
func (s *MemoryHostStorage) UpdateHostsActivity(hosts []string, timestamp time.Time) error {
	for _, host := range hosts {
		if _, ok := s.hosts[host]; ok {
			s.hosts[host] = timestamp
		}
	}
	return nil
}

// GetHostsActivity returns the last activity of each given host.
func (s *MemoryHostStorage) GetHostsActivity(hosts []string) (map[string]time.Time, error) {
	activity := make(map[string]time.Time, len(hosts))
	for _, host := range hosts {
		timestamp, ok := s.hosts[host]
		if !ok {
			return nil, hostMissingError(host)
		}
		activity[host] = timestamp
	}
	return activity, nil
}

// LoadHosts lists all known hosts.
func (s *MemoryHostStorage) LoadHosts() ([]string, error) {
	hosts := make([]string, 0, len(s.hosts))
	for host := range s.hosts {
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// Clear forgets all hosts.
func (s *MemoryHostStorage) Clear() error {
	s.hosts = make(map[string]time.Time)
	return nil
}

func hostMissingError(host string) error {
	return structs.NewScalingError("host with name '%s' doesn't exist in the "+
		"host storage", host)
}

func hostsOfJobs(jobs []*structs.Job) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, job := range jobs {
		for _, host := range job.Hosts {
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts
}
