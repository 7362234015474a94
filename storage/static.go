package storage

import (
	"os"
	"strings"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// LoadDefaultHosts reads the master hosts file into a host list. A missing
// file yields an empty list.
func LoadDefaultHosts(defaultHostfile string) ([]string, error) {
	content, err := os.ReadFile(defaultHostfile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var hosts []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			hosts = append(hosts, line)
		}
	}
	return hosts, nil
}

// InitStaticHosts seeds the static host storage on first start. With static
// hosts enabled the hosts come from the master hosts file, otherwise only
// the master host itself is registered. Seeded activity is back-dated by
// twice the tagging timeout to prevent false positive run tagging right
// after startup.
func InitStaticHosts(defaultHostfile string, staticHostStorage structs.HostStorage,
	clock structs.Clock, taggingActiveTimeout time.Duration,
	staticHostsEnabled bool, masterHost string) {

	known, err := staticHostStorage.LoadHosts()
	if err != nil {
		logging.Warning("storage/static: static hosts initialization has "+
			"failed: %v", err)
		return
	}
	if len(known) > 0 {
		logging.Info("storage/static: static hosts already initialized")
		return
	}

	logging.Info("storage/static: starting static hosts initialization")

	var hosts []string
	if staticHostsEnabled {
		hosts, err = LoadDefaultHosts(defaultHostfile)
		if err != nil {
			logging.Warning("storage/static: static hosts initialization has "+
				"failed: %v", err)
			return
		}
	} else {
		hosts = []string{masterHost}
	}

	for _, host := range hosts {
		if err := staticHostStorage.AddHost(host); err != nil {
			logging.Warning("storage/static: static hosts initialization has "+
				"failed: %v", err)
			return
		}
	}

	timestamp := clock.Now().Add(-2 * taggingActiveTimeout)
	if err := staticHostStorage.UpdateHostsActivity(hosts, timestamp); err != nil {
		logging.Warning("storage/static: static hosts initialization has "+
			"failed: %v", err)
		return
	}

	logging.Info("storage/static: static hosts have been initialized")
}
