package autoscaler

import (
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/logging"
)

// workerTag marks a worker run as busy with grid engine jobs.
const workerTag = "SGE_IN_USE"

// lastActionMarker tracks when a host was last seen active and when its run
// was last tagged.
type lastActionMarker struct {
	lastActionTimestamp time.Time
	lastTagTimestamp    time.Time
}

// WorkerTagsHandler maintains the in-use tag on worker runs: a run gets the
// tag once its host has shown activity on two consecutive sightings and
// loses it when the host goes inactive or disappears from storage.
type WorkerTagsHandler struct {
	api                  structs.PipelineAPI
	hostStorage          structs.HostStorage
	staticHostStorage    structs.HostStorage
	clock                structs.Clock
	taggingActiveTimeout time.Duration

	lastMonitoredHosts map[string]*lastActionMarker
	staticHosts        []string
}

// NewWorkerTagsHandler returns a worker tags handler. The static host list
// is snapshotted once since static cluster members never change at runtime.
func NewWorkerTagsHandler(api structs.PipelineAPI, taggingActiveTimeout time.Duration,
	hostStorage, staticHostStorage structs.HostStorage,
	clock structs.Clock) *WorkerTagsHandler {

	staticHosts, err := staticHostStorage.LoadHosts()
	if err != nil {
		logging.Warning("core/worker_tags: static hosts loading has failed: %v", err)
	}

	return &WorkerTagsHandler{
		api:                  api,
		hostStorage:          hostStorage,
		staticHostStorage:    staticHostStorage,
		clock:                clock,
		taggingActiveTimeout: taggingActiveTimeout,
		lastMonitoredHosts:   make(map[string]*lastActionMarker),
		staticHosts:          staticHosts,
	}
}

// ProcessTags synchronizes run tags with the current host activity. All
// failures stay inside this method: tagging is an auxiliary concern that
// must never break a tick.
func (h *WorkerTagsHandler) ProcessTags() {
	logging.Info("core/worker_tags: init: tags processing")

	currentHosts, err := h.hostStorage.LoadHosts()
	if err != nil {
		logging.Warning("core/worker_tags: fail: tags processing due to %v", err)
		return
	}
	hostsActivity, err := h.hostStorage.GetHostsActivity(currentHosts)
	if err != nil {
		logging.Warning("core/worker_tags: fail: tags processing due to %v", err)
		return
	}
	staticActivity, err := h.staticHostStorage.GetHostsActivity(h.staticHosts)
	if err != nil {
		logging.Warning("core/worker_tags: fail: tags processing due to %v", err)
		return
	}
	for host, timestamp := range staticActivity {
		hostsActivity[host] = timestamp
	}

	monitoredHosts := make([]string, 0, len(h.lastMonitoredHosts))
	for host := range h.lastMonitoredHosts {
		monitoredHosts = append(monitoredHosts, host)
	}

	currentHosts = append(currentHosts, h.staticHosts...)
	h.processCurrentHosts(currentHosts, hostsActivity)
	h.processOutdatedHosts(monitoredHosts, currentHosts)

	logging.Info("core/worker_tags: done: tags processing")
}

func (h *WorkerTagsHandler) processCurrentHosts(currentHosts []string,
	hostsActivity map[string]time.Time) {

	for _, currentHost := range currentHosts {
		timestamp, ok := hostsActivity[currentHost]
		if !ok || timestamp.IsZero() {
			continue
		}
		marker, monitored := h.lastMonitoredHosts[currentHost]
		if !monitored {
			// First sighting is recorded but not tagged yet.
			h.lastMonitoredHosts[currentHost] = &lastActionMarker{}
			continue
		}
		if h.runIsActive(timestamp) {
			if marker.lastTagTimestamp.IsZero() {
				logging.Info("core/worker_tags: adding tag to run for host '%s'",
					currentHost)
				h.tagRun(currentHost, timestamp, marker)
			}
			// An active run that is already tagged needs no action.
			continue
		}
		if !marker.lastTagTimestamp.IsZero() {
			h.untagRun(currentHost, timestamp, marker)
		}
	}
}

func (h *WorkerTagsHandler) processOutdatedHosts(monitoredHosts, currentHosts []string) {
	current := make(map[string]struct{}, len(currentHosts))
	for _, host := range currentHosts {
		current[host] = struct{}{}
	}
	for _, monitoredHost := range monitoredHosts {
		if _, ok := current[monitoredHost]; !ok {
			h.untagRun(monitoredHost, time.Time{}, nil)
		}
	}
}

func (h *WorkerTagsHandler) runIsActive(timestamp time.Time) bool {
	return timestamp.After(h.clock.Now().Add(-h.taggingActiveTimeout))
}

func (h *WorkerTagsHandler) tagRun(host string, timestamp time.Time,
	marker *lastActionMarker) {

	runID, err := client.RunIDFromHost(host)
	if err != nil {
		logging.Warning("core/worker_tags: %v", err)
		return
	}
	if err := h.addWorkerTag(runID); err != nil {
		logging.Warning("core/worker_tags: tagging run #%d has failed: %v", runID, err)
		return
	}
	marker.lastActionTimestamp = timestamp
	marker.lastTagTimestamp = h.clock.Now()
}

func (h *WorkerTagsHandler) untagRun(host string, timestamp time.Time,
	marker *lastActionMarker) {

	logging.Info("core/worker_tags: removing tag from run for host '%s'", host)
	runID, err := client.RunIDFromHost(host)
	if err != nil {
		logging.Warning("core/worker_tags: %v", err)
		return
	}
	if err := h.removeWorkerTag(runID); err != nil {
		logging.Warning("core/worker_tags: untagging run #%d has failed: %v", runID, err)
		return
	}
	if marker == nil {
		delete(h.lastMonitoredHosts, host)
		return
	}
	marker.lastActionTimestamp = timestamp
	marker.lastTagTimestamp = time.Time{}
}

func (h *WorkerTagsHandler) addWorkerTag(runID int) error {
	run, err := h.api.LoadRun(runID)
	if err != nil {
		return err
	}
	tags := run.Tags
	if tags == nil {
		tags = make(map[string]string)
	}
	tags[workerTag] = "true"
	return h.api.UpdateRunTags(runID, tags)
}

func (h *WorkerTagsHandler) removeWorkerTag(runID int) error {
	run, err := h.api.LoadRun(runID)
	if err != nil {
		return err
	}
	if run.Tags == nil {
		return nil
	}
	if _, ok := run.Tags[workerTag]; !ok {
		return nil
	}
	delete(run.Tags, workerTag)
	return h.api.UpdateRunTags(runID, run.Tags)
}
