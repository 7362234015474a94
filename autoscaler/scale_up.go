package autoscaler

import (
	"sync"
	"time"

	metrics "github.com/armon/go-metrics"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/helper"
	"github.com/epam/sge-autoscaler/logging"
)

// ScaleUpHandler manages the scale up of a single additional worker: launch
// the run, wait for the pod, register the host, wait for the worker setup
// and enable the host in the grid engine.
type ScaleUpHandler struct {
	launcher    *client.WorkerLauncher
	api         structs.PipelineAPI
	gridEngine  structs.GridEngine
	hostStorage structs.HostStorage

	launchParams     client.LaunchParams
	ownerParamName   string
	pollingTimeout   time.Duration
	pollingDelay     time.Duration
	gePollingTimeout time.Duration
	clock            structs.Clock
}

// ScaleUpHandlerConfig bundles the scale up handler dependencies.
type ScaleUpHandlerConfig struct {
	Launcher    *client.WorkerLauncher
	API         structs.PipelineAPI
	GridEngine  structs.GridEngine
	HostStorage structs.HostStorage

	LaunchParams     client.LaunchParams
	OwnerParamName   string
	PollingTimeout   time.Duration
	PollingDelay     time.Duration
	GEPollingTimeout time.Duration
	Clock            structs.Clock
}

// NewScaleUpHandler returns a scale up handler.
func NewScaleUpHandler(config ScaleUpHandlerConfig) *ScaleUpHandler {
	return &ScaleUpHandler{
		launcher:         config.Launcher,
		api:              config.API,
		gridEngine:       config.GridEngine,
		hostStorage:      config.HostStorage,
		launchParams:     config.LaunchParams,
		ownerParamName:   config.OwnerParamName,
		pollingTimeout:   config.PollingTimeout,
		pollingDelay:     config.PollingDelay,
		gePollingTimeout: config.GEPollingTimeout,
		clock:            config.Clock,
	}
}

// ScaleUp scales up one additional worker for the given instance demand.
//
// The master hosts file is altered before the worker starts adding itself to
// the grid engine configuration, otherwise the configuration ends up with
// "can't resolve hostname" errors. The host is also enabled in the grid
// engine only after its run is fully initialized: workers are disabled by
// default to prevent job submissions to not yet initialized runs.
//
// A failure aborts only this worker's setup; peers in the same batch keep
// going, which is why errors are consumed here rather than returned.
func (h *ScaleUpHandler) ScaleUp(instance structs.Instance, owner string, runIDs chan<- int) {
	logging.Info("core/scale_up: scaling up additional worker (%s)...", instance.Name)

	runID, err := h.launcher.LaunchRun(h.launchParams, instance.Name, h.ownerParamName, owner)
	if err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}
	runIDs <- runID

	host, err := h.retrievePodName(runID)
	if err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	if err := h.hostStorage.AddHost(host); err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	pod, err := h.awaitPodInitialization(runID)
	if err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	if err := h.launcher.AddToHosts(pod); err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	if err := h.awaitWorkerInitialization(runID); err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	if err := h.enableWorkerInGridEngine(pod); err != nil {
		logging.Crucial("core/scale_up: scaling up additional worker (%s) has "+
			"failed due to %v", instance.Name, err)
		return
	}

	logging.Crucial("core/scale_up: additional worker %s (%s) has been scaled up",
		pod.Name, instance.Name)
	metrics.IncrCounter([]string{"cluster", "scale_up", "success"}, 1)
}

func (h *ScaleUpHandler) retrievePodName(runID int) (string, error) {
	logging.Info("core/scale_up: retrieving pod name of additional worker #%d...", runID)
	run, err := h.api.LoadRun(runID)
	if err != nil {
		return "", err
	}
	if run.PodID == "" {
		return "", structs.NewScalingError("additional worker #%d has no pod "+
			"name specified", runID)
	}
	logging.Info("core/scale_up: additional worker #%d pod name %s has been "+
		"retrieved", runID, run.PodID)
	return run.PodID, nil
}

func (h *ScaleUpHandler) awaitPodInitialization(runID int) (structs.KubernetesPod, error) {
	logging.Info("core/scale_up: waiting for additional worker #%d pod to "+
		"initialize...", runID)

	for attempts := h.pollAttempts(h.pollingTimeout); attempts > 0; attempts-- {
		run, err := h.api.LoadRun(runID)
		if err != nil {
			return structs.KubernetesPod{}, err
		}
		if run.Status != "" && run.Status != structs.RunStatusRunning {
			return structs.KubernetesPod{}, structs.NewScalingError(
				"additional worker #%d is not running. Probably it has failed", runID)
		}
		if run.PodIP != "" {
			pod := structs.KubernetesPod{IP: run.PodIP, Name: run.PodID}
			logging.Info("core/scale_up: additional worker #%d pod has started: "+
				"%s (%s)", runID, pod.Name, pod.IP)
			return pod, nil
		}
		logging.Info("core/scale_up: additional worker #%d pod initialization "+
			"hasn't finished yet. Only %d attempts remain left", runID, attempts)
		time.Sleep(h.pollingDelay)
	}
	return structs.KubernetesPod{}, structs.NewScalingError("additional worker "+
		"#%d pod hasn't started after %s", runID, h.pollingTimeout)
}

func (h *ScaleUpHandler) awaitWorkerInitialization(runID int) error {
	logging.Info("core/scale_up: waiting for additional worker #%d to "+
		"initialize...", runID)

	for attempts := h.pollAttempts(h.pollingTimeout); attempts > 0; attempts-- {
		run, err := h.api.LoadRun(runID)
		if err != nil {
			return err
		}
		if run.Status != "" && run.Status != structs.RunStatusRunning {
			return structs.NewScalingError("additional worker #%d is not "+
				"running. Probably it has failed", runID)
		}
		if run.Initialized {
			logging.Info("core/scale_up: additional worker #%d has been marked "+
				"as initialized", runID)
			logging.Info("core/scale_up: checking additional worker #%d grid "+
				"engine initialization status...", runID)
			tasks, err := h.api.LoadTask(runID, "SGEWorkerSetup")
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if task.Status == structs.TaskStatusSuccess {
					logging.Info("core/scale_up: additional worker #%d has been "+
						"initialized", runID)
					return nil
				}
			}
		}
		logging.Info("core/scale_up: additional worker #%d hasn't been "+
			"initialized yet. Only %d attempts remain left", runID, attempts)
		time.Sleep(h.pollingDelay)
	}
	return structs.NewScalingError("additional worker #%d hasn't been "+
		"initialized after %s", runID, h.pollingTimeout)
}

func (h *ScaleUpHandler) enableWorkerInGridEngine(pod structs.KubernetesPod) error {
	logging.Info("core/scale_up: enabling additional worker %s in grid engine...",
		pod.Name)

	for attempts := h.pollAttempts(h.gePollingTimeout); attempts > 0; attempts-- {
		err := h.gridEngine.EnableHost(pod.Name)
		if err == nil {
			logging.Info("core/scale_up: additional worker %s has been enabled "+
				"in grid engine", pod.Name)
			if err := h.hostStorage.UpdateHostsActivity([]string{pod.Name},
				h.clock.Now()); err != nil {
				logging.Warning("core/scale_up: %v", err)
			}
			return nil
		}
		logging.Warning("core/scale_up: additional worker %s enabling in grid "+
			"engine has failed with only %d attempts remain left: %v",
			pod.Name, attempts, err)
		time.Sleep(h.pollingDelay)
	}
	return structs.NewScalingError("additional worker %s hasn't been enabled "+
		"in grid engine after %s", pod.Name, h.gePollingTimeout)
}

func (h *ScaleUpHandler) pollAttempts(timeout time.Duration) int {
	if h.pollingDelay <= 0 {
		return 1
	}
	attempts := int(timeout / h.pollingDelay)
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// ScaleUpOrchestrator handles additional workers batch scaling up. It
// launches no more than a configured number of workers at once and waits for
// the whole batch to finish before returning, so one batch's effects are
// visible before the next decision tick.
type ScaleUpOrchestrator struct {
	handler           *ScaleUpHandler
	gridEngine        structs.GridEngine
	hostStorage       structs.HostStorage
	staticHostStorage structs.HostStorage
	workerTagsHandler *WorkerTagsHandler
	instanceSelector  structs.InstanceSelector
	workerRecorder    structs.WorkerRecorder
	batchSize         int
	pollingDelay      time.Duration
	clock             structs.Clock
}

// ScaleUpOrchestratorConfig bundles the orchestrator dependencies.
type ScaleUpOrchestratorConfig struct {
	Handler           *ScaleUpHandler
	GridEngine        structs.GridEngine
	HostStorage       structs.HostStorage
	StaticHostStorage structs.HostStorage
	WorkerTagsHandler *WorkerTagsHandler
	InstanceSelector  structs.InstanceSelector
	WorkerRecorder    structs.WorkerRecorder
	BatchSize         int
	PollingDelay      time.Duration
	Clock             structs.Clock
}

// NewScaleUpOrchestrator returns a scale up orchestrator.
func NewScaleUpOrchestrator(config ScaleUpOrchestratorConfig) *ScaleUpOrchestrator {
	if config.PollingDelay <= 0 {
		config.PollingDelay = time.Second
	}
	return &ScaleUpOrchestrator{
		handler:           config.Handler,
		gridEngine:        config.GridEngine,
		hostStorage:       config.HostStorage,
		staticHostStorage: config.StaticHostStorage,
		workerTagsHandler: config.WorkerTagsHandler,
		instanceSelector:  config.InstanceSelector,
		workerRecorder:    config.WorkerRecorder,
		batchSize:         config.BatchSize,
		pollingDelay:      config.PollingDelay,
		clock:             config.Clock,
	}
}

// ScaleUp selects instances for the given demands and scales up one worker
// per selected instance concurrently, bounded by the batch size and the
// remaining worker capacity.
func (o *ScaleUpOrchestrator) ScaleUp(demands []structs.ResourceDemand, maxBatchSize int) error {
	selected, err := o.instanceSelector.Select(demands)
	if err != nil {
		return err
	}

	limit := helper.MinInt(o.batchSize, maxBatchSize)
	if len(selected) > limit {
		selected = selected[:limit]
	}
	if len(selected) == 0 {
		logging.Info("core/scale_up: there are no instance demands. Scaling up " +
			"is aborted.")
		return nil
	}

	logging.Info("core/scale_up: scaling up %d additional workers...", len(selected))

	runIDs := make(chan int, len(selected))
	var wg sync.WaitGroup
	wg.Add(len(selected))
	for _, instanceDemand := range selected {
		go func(demand structs.InstanceDemand) {
			defer wg.Done()
			o.handler.ScaleUp(demand.Instance, demand.Owner, runIDs)
		}(instanceDemand)
	}

	// Keep host activity and run tags fresh while the batch is in flight,
	// then block on the batch barrier.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(o.pollingDelay)
	defer ticker.Stop()
waitLoop:
	for {
		select {
		case <-done:
			break waitLoop
		case <-ticker.C:
			logging.Info("core/scale_up: waiting for %d additional workers to "+
				"scale up...", len(selected))
			o.updateLastActivityForCurrentlyRunningJobs()
			o.workerTagsHandler.ProcessTags()
		}
	}
	logging.Info("core/scale_up: all %d/%d additional workers have been scaled "+
		"up.", len(selected), len(selected))

	logging.Info("core/scale_up: recording details of %d additional workers...",
		len(selected))
	close(runIDs)
	for runID := range runIDs {
		o.workerRecorder.Record(runID)
	}
	logging.Info("core/scale_up: additional workers details recording has finished.")
	return nil
}

func (o *ScaleUpOrchestrator) updateLastActivityForCurrentlyRunningJobs() {
	jobs, err := o.gridEngine.GetJobs()
	if err != nil {
		logging.Warning("core/scale_up: %v", err)
		return
	}

	var runningJobs []*structs.Job
	for _, job := range jobs {
		if job.State == structs.JobStateRunning {
			runningJobs = append(runningJobs, job)
		}
	}
	if len(runningJobs) == 0 {
		return
	}
	now := o.clock.Now()
	if err := o.hostStorage.UpdateRunningJobsHostActivity(runningJobs, now); err != nil {
		logging.Warning("core/scale_up: %v", err)
	}
	if err := o.staticHostStorage.UpdateRunningJobsHostActivity(runningJobs, now); err != nil {
		logging.Warning("core/scale_up: %v", err)
	}
}
