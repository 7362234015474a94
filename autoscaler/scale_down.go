package autoscaler

import (
	"sort"

	metrics "github.com/armon/go-metrics"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/logging"
)

// ScaleDownHandler manages the scale down of a single additional worker: it
// drains the host, removes it from the grid engine configuration, stops the
// backing run and purges the master hosts files.
type ScaleDownHandler struct {
	launcher   *client.WorkerLauncher
	gridEngine structs.GridEngine
}

// NewScaleDownHandler returns a scale down handler.
func NewScaleDownHandler(launcher *client.WorkerLauncher,
	gridEngine structs.GridEngine) *ScaleDownHandler {

	return &ScaleDownHandler{
		launcher:   launcher,
		gridEngine: gridEngine,
	}
}

// ScaleDown scales down an additional worker. The host is first disabled so
// the queue stops placing jobs on it; if jobs are still attached the host is
// re-enabled and the scale down reports false.
func (h *ScaleDownHandler) ScaleDown(childHost string) (bool, error) {
	logging.Info("core/scale_down: disabling additional worker %s...", childHost)
	if err := h.gridEngine.DisableHost(childHost); err != nil {
		return false, err
	}

	jobs, err := h.gridEngine.GetJobs()
	if err != nil {
		return false, err
	}
	disabledHostJobs := 0
	for _, job := range jobs {
		for _, host := range job.Hosts {
			if host == childHost {
				disabledHostJobs++
				break
			}
		}
	}
	if disabledHostJobs > 0 {
		logging.Warning("core/scale_down: disabled additional worker %s has %d "+
			"associated jobs. Scaling down is interrupted.", childHost, disabledHostJobs)
		logging.Info("core/scale_down: enable additional worker %s again.", childHost)
		if err := h.gridEngine.EnableHost(childHost); err != nil {
			return false, err
		}
		return false, nil
	}

	logging.Info("core/scale_down: removing additional worker %s from GE "+
		"cluster configuration...", childHost)
	if err := h.gridEngine.DeleteHost(childHost, true); err != nil {
		return false, err
	}
	logging.Info("core/scale_down: additional worker %s was removed from GE "+
		"cluster configuration.", childHost)

	runID, err := client.RunIDFromHost(childHost)
	if err != nil {
		return false, err
	}
	if err := h.launcher.StopRun(runID); err != nil {
		return false, err
	}

	if err := h.launcher.RemoveFromHosts(childHost); err != nil {
		return false, err
	}

	logging.Crucial("core/scale_down: additional worker %s has been scaled down",
		childHost)
	metrics.IncrCounter([]string{"cluster", "scale_down", "success"}, 1)
	return true, nil
}

// ScaleDownOrchestrator handles additional workers batch scaling down,
// retiring no more than a configured number of workers at once.
type ScaleDownOrchestrator struct {
	handler     *ScaleDownHandler
	gridEngine  structs.GridEngine
	hostStorage structs.HostStorage
	batchSize   int
}

// NewScaleDownOrchestrator returns a scale down orchestrator.
func NewScaleDownOrchestrator(handler *ScaleDownHandler, gridEngine structs.GridEngine,
	hostStorage structs.HostStorage, batchSize int) *ScaleDownOrchestrator {

	return &ScaleDownOrchestrator{
		handler:     handler,
		gridEngine:  gridEngine,
		hostStorage: hostStorage,
		batchSize:   batchSize,
	}
}

// ScaleDown retires up to a batch of the given inactive workers, one at a
// time. Hosts with the most processors leave first.
func (o *ScaleDownOrchestrator) ScaleDown(inactiveAdditionalHosts []string) error {
	hostsToScaleDown := o.SelectHostsToScaleDown(inactiveAdditionalHosts)
	if len(hostsToScaleDown) > o.batchSize {
		hostsToScaleDown = hostsToScaleDown[:o.batchSize]
	}

	total := len(hostsToScaleDown)
	logging.Info("core/scale_down: scaling down %d additional workers...", total)
	for finished, host := range hostsToScaleDown {
		succeed, err := o.handler.ScaleDown(host)
		if err != nil {
			return err
		}
		if succeed {
			if err := o.hostStorage.RemoveHost(host); err != nil {
				return err
			}
		}
		if finished+1 < total {
			logging.Info("core/scale_down: only %d/%d additional workers have "+
				"been scaled down.", finished+1, total)
		}
	}
	logging.Info("core/scale_down: all %d/%d additional workers have been "+
		"scaled down.", total, total)
	return nil
}

// SelectHostsToScaleDown orders scale down candidates by the processor count
// the grid engine reports for them, biggest first.
func (o *ScaleDownOrchestrator) SelectHostsToScaleDown(hosts []string) []string {
	supplies := make(map[string]int, len(hosts))
	for _, host := range hosts {
		supplies[host] = o.gridEngine.GetHostSupply(host).CPU
	}

	sorted := make([]string, len(hosts))
	copy(sorted, hosts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return supplies[sorted[i]] > supplies[sorted[j]]
	})
	return sorted
}
