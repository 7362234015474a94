package autoscaler

import (
	"errors"

	metrics "github.com/armon/go-metrics"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/logging"
)

// WorkerValidator finds and reaps broken additional workers each tick. A
// worker may break in several ways: the autoscaler failed halfway through
// its setup, a spot instance got preempted, the grid engine marked the host
// unhealthy. Whatever the cause, the worker is torn down everywhere it left
// traces.
type WorkerValidator struct {
	launcher    *client.WorkerLauncher
	api         structs.PipelineAPI
	hostStorage structs.HostStorage
	gridEngine  structs.GridEngine
}

// NewWorkerValidator returns a worker validator.
func NewWorkerValidator(launcher *client.WorkerLauncher, api structs.PipelineAPI,
	hostStorage structs.HostStorage, gridEngine structs.GridEngine) *WorkerValidator {

	return &WorkerValidator{
		launcher:    launcher,
		api:         api,
		hostStorage: hostStorage,
		gridEngine:  gridEngine,
	}
}

type invalidHost struct {
	host  string
	runID int
}

// Validate finds and removes any additional hosts which aren't valid
// execution hosts in the grid engine or whose backing runs aren't active.
func (v *WorkerValidator) Validate() error {
	hosts, err := v.hostStorage.LoadHosts()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		logging.Info("core/worker_validator: skip: workers validation")
		return nil
	}

	logging.Info("core/worker_validator: init: workers validation")
	var invalidHosts []invalidHost
	for _, host := range hosts {
		runID, err := client.RunIDFromHost(host)
		if err != nil {
			logging.Warning("core/worker_validator: %v", err)
			invalidHosts = append(invalidHosts, invalidHost{host: host})
			continue
		}
		if !v.gridEngine.IsValid(host) || !v.isRunning(runID) {
			invalidHosts = append(invalidHosts, invalidHost{host: host, runID: runID})
		}
	}

	for _, invalid := range invalidHosts {
		logging.Crucial("core/worker_validator: invalid additional host %s was "+
			"found. It will be downscaled.", invalid.host)
		v.tryStopWorker(invalid.runID)
		v.tryDisableWorker(invalid.host, invalid.runID)
		v.tryKillInvalidHostJobs(invalid.host)
		if err := v.gridEngine.DeleteHost(invalid.host, true); err != nil {
			logging.Warning("core/worker_validator: %v", err)
		}
		if err := v.launcher.RemoveFromHosts(invalid.host); err != nil {
			logging.Warning("core/worker_validator: invalid additional worker "+
				"hosts cleanup has failed: %v", err)
		}
		if err := v.hostStorage.RemoveHost(invalid.host); err != nil {
			logging.Warning("core/worker_validator: %v", err)
		}
		metrics.IncrCounter([]string{"cluster", "worker_reap"}, 1)
	}
	logging.Info("core/worker_validator: done: workers validation")
	return nil
}

// isRunning checks the backing run of a worker. An API level error means the
// run is gone; any other failure is treated as transient so a blip does not
// reap a healthy worker.
func (v *WorkerValidator) isRunning(runID int) bool {
	run, err := v.api.LoadRun(runID)
	if err != nil {
		var apiErr *structs.APIError
		if errors.As(err, &apiErr) {
			logging.Warning("core/worker_validator: additional worker #%d status "+
				"retrieving has failed and it is considered not running: %v", runID, err)
			return false
		}
		logging.Warning("core/worker_validator: additional worker #%d status "+
			"retrieving has failed but it is temporary considered running: %v",
			runID, err)
		return true
	}

	if run.Status == structs.RunStatusRunning {
		return true
	}
	logging.Warning("core/worker_validator: additional worker #%d status is "+
		"not %s but %s", runID, structs.RunStatusRunning, run.Status)
	return false
}

func (v *WorkerValidator) tryStopWorker(runID int) {
	if runID == 0 {
		return
	}
	if err := v.launcher.StopRun(runID); err != nil {
		logging.Warning("core/worker_validator: invalid additional worker run " +
			"stopping has failed")
	}
}

func (v *WorkerValidator) tryDisableWorker(host string, runID int) {
	logging.Info("core/worker_validator: disabling additional worker #%d in GE...", runID)
	if err := v.gridEngine.DisableHost(host); err != nil {
		logging.Warning("core/worker_validator: invalid additional worker " +
			"disabling has failed")
	}
}

func (v *WorkerValidator) tryKillInvalidHostJobs(host string) {
	jobs, err := v.gridEngine.GetJobs()
	if err != nil {
		logging.Warning("core/worker_validator: %v", err)
		return
	}

	var invalidHostJobs []*structs.Job
	for _, job := range jobs {
		for _, jobHost := range job.Hosts {
			if jobHost == host {
				invalidHostJobs = append(invalidHostJobs, job)
				break
			}
		}
	}
	if len(invalidHostJobs) == 0 {
		return
	}
	if err := v.gridEngine.KillJobs(invalidHostJobs, true); err != nil {
		logging.Warning("core/worker_validator: %v", err)
	}
}
