package storage

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Storage file line format: one host per line, hostname and last activity
// timestamp separated by a pipe.
const (
	valueBreaker = "|"

	datetimeFormat       = "2006-01-02 15:04:05"
	datetimeMicrosFormat = "2006-01-02 15:04:05.000000"
)

// FileSystemHostStorage is a host storage persisted to a single file so that
// additional host details survive autoscaler restarts. Writes are atomic:
// the content goes to a sibling _MODIFIED file which is then renamed over
// the storage file.
type FileSystemHostStorage struct {
	storageFile string
	clock       structs.Clock

	// lastWritten is the hash of the last written snapshot, used to skip
	// no-op rewrites of the storage file.
	lastWritten uint64
}

// NewFileSystemHostStorage returns a host storage backed by the given file.
func NewFileSystemHostStorage(storageFile string, clock structs.Clock) *FileSystemHostStorage {
	return &FileSystemHostStorage{
		storageFile: storageFile,
		clock:       clock,
	}
}

// AddHost persists a new host stamped with the current time.
func (s *FileSystemHostStorage) AddHost(host string) error {
	hosts, err := s.loadHostsStats()
	if err != nil {
		return err
	}
	if _, ok := hosts[host]; ok {
		return structs.NewScalingError("host with name '%s' is already in the "+
			"host storage", host)
	}
	hosts[host] = s.clock.Now()
	return s.updateStorageFile(hosts)
}

// RemoveHost forgets a host.
func (s *FileSystemHostStorage) RemoveHost(host string) error {
	hosts, err := s.loadHostsStats()
	if err != nil {
		return err
	}
	if _, ok := hosts[host]; !ok {
		return hostMissingError(host)
	}
	delete(hosts, host)
	return s.updateStorageFile(hosts)
}

// UpdateRunningJobsHostActivity stamps the activity of every host that
// appears in the host lists of the given running jobs.
func (s *FileSystemHostStorage) UpdateRunningJobsHostActivity(runningJobs []*structs.Job,
	timestamp time.Time) error {

	activeHosts := hostsOfJobs(runningJobs)
	if len(activeHosts) == 0 {
		return nil
	}
	return s.UpdateHostsActivity(activeHosts, timestamp)
}

// UpdateHostsActivity stamps the activity of the given hosts. Unknown hosts
// are silently skipped.
func (s *FileSystemHostStorage) UpdateHostsActivity(hosts []string, timestamp time.Time) error {
	latest, err := s.loadHostsStats()
	if err != nil {
		return err
	}
	for _, host := range hosts {
		if _, ok := latest[host]; ok {
			latest[host] = timestamp
		}
	}
	return s.updateStorageFile(latest)
}

// GetHostsActivity returns the last activity of each given host.
func (s *FileSystemHostStorage) GetHostsActivity(hosts []string) (map[string]time.Time, error) {
	latest, err := s.loadHostsStats()
	if err != nil {
		return nil, err
	}
	activity := make(map[string]time.Time, len(hosts))
	for _, host := range hosts {
		timestamp, ok := latest[host]
		if !ok {
			return nil, hostMissingError(host)
		}
		activity[host] = timestamp
	}
	return activity, nil
}

// LoadHosts lists all persisted hosts.
func (s *FileSystemHostStorage) LoadHosts() ([]string, error) {
	hosts, err := s.loadHostsStats()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(hosts))
	for host := range hosts {
		names = append(names, host)
	}
	return names, nil
}

// Clear forgets all hosts.
func (s *FileSystemHostStorage) Clear() error {
	return s.updateStorageFile(map[string]time.Time{})
}

func (s *FileSystemHostStorage) loadHostsStats() (map[string]time.Time, error) {
	hosts := make(map[string]time.Time)

	content, err := os.ReadFile(s.storageFile)
	if err != nil {
		if os.IsNotExist(err) {
			return hosts, nil
		}
		return nil, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, valueBreaker, 2)
		if len(parts) != 2 {
			return nil, structs.NewParsingError("malformed host storage line %q "+
				"in %s", line, s.storageFile)
		}
		lastActivity, err := parseStorageTime(parts[1])
		if err != nil {
			return nil, err
		}
		hosts[parts[0]] = lastActivity
	}
	return hosts, nil
}

func (s *FileSystemHostStorage) updateStorageFile(hosts map[string]time.Time) error {
	lines := make([]string, 0, len(hosts))
	for host, lastActivity := range hosts {
		lines = append(lines, host+valueBreaker+formatStorageTime(lastActivity))
	}
	sort.Strings(lines)

	hash, hashErr := hashstructure.Hash(lines, nil)
	if hashErr == nil && hash == s.lastWritten {
		logging.Debug("storage/file: storage file %s is unchanged, skipping "+
			"rewrite", s.storageFile)
		return nil
	}

	modified := s.storageFile + "_MODIFIED"
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(modified, []byte(content), 0644); err != nil {
		return fmt.Errorf("unable to write host storage file %s: %w", modified, err)
	}
	if err := os.Rename(modified, s.storageFile); err != nil {
		return err
	}
	if hashErr == nil {
		s.lastWritten = hash
	}
	return nil
}

func parseStorageTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if timestamp, err := time.Parse(datetimeMicrosFormat, value); err == nil {
		return timestamp, nil
	}
	timestamp, err := time.Parse(datetimeFormat, value)
	if err != nil {
		return time.Time{}, structs.NewParsingError("malformed host storage "+
			"timestamp %q", value)
	}
	return timestamp, nil
}

func formatStorageTime(timestamp time.Time) string {
	if timestamp.Nanosecond() != 0 {
		return timestamp.Format(datetimeMicrosFormat)
	}
	return timestamp.Format(datetimeFormat)
}
