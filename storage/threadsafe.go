package storage

import (
	"sync"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// ThreadSafeHostStorage is a mutex decorator for an underlying host storage.
// The additional host storage is the only state shared between concurrent
// scale up tasks and the main loop, so it is the only storage that needs the
// wrapper.
type ThreadSafeHostStorage struct {
	storage structs.HostStorage
	lock    sync.Mutex
}

// NewThreadSafeHostStorage wraps a host storage with a mutex.
func NewThreadSafeHostStorage(storage structs.HostStorage) *ThreadSafeHostStorage {
	return &ThreadSafeHostStorage{storage: storage}
}

// AddHost registers a new host.
func (s *ThreadSafeHostStorage) AddHost(host string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.AddHost(host)
}

// RemoveHost forgets a host.
func (s *ThreadSafeHostStorage) RemoveHost(host string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.RemoveHost(host)
}

// UpdateRunningJobsHostActivity stamps the activity of the hosts of the
// given running jobs.
func (s *ThreadSafeHostStorage) UpdateRunningJobsHostActivity(runningJobs []*structs.Job,
	timestamp time.Time) error {

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.UpdateRunningJobsHostActivity(runningJobs, timestamp)
}

// UpdateHostsActivity stamps the activity of the given hosts.
func (s *ThreadSafeHostStorage) UpdateHostsActivity(hosts []string, timestamp time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.UpdateHostsActivity(hosts, timestamp)
}

// GetHostsActivity returns the last activity of each given host.
func (s *ThreadSafeHostStorage) GetHostsActivity(hosts []string) (map[string]time.Time, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.GetHostsActivity(hosts)
}

// LoadHosts lists all known hosts.
func (s *ThreadSafeHostStorage) LoadHosts() ([]string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.LoadHosts()
}

// Clear forgets all hosts.
func (s *ThreadSafeHostStorage) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.storage.Clear()
}
