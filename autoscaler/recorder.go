package autoscaler

import (
	"sync"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

const recorderDatetimeFormat = "2006-01-02 15:04:05.000000"

// insufficientCapacityReason is the state reason the pipeline API attaches
// to runs that failed because the cloud region ran out of instances.
const insufficientCapacityReason = "Insufficient instance capacity."

// PipelineWorkerRecorder remembers recently launched additional workers in a
// bounded ring so that cloud capacity errors can drive the instance
// availability circuit breaker. Records are immutable once appended.
type PipelineWorkerRecorder struct {
	api      structs.PipelineAPI
	capacity int

	lock    sync.Mutex
	records []structs.WorkerRecord
}

// DefaultRecorderCapacity bounds the worker record ring.
const DefaultRecorderCapacity = 100

// NewPipelineWorkerRecorder returns a worker recorder of the default
// capacity.
func NewPipelineWorkerRecorder(api structs.PipelineAPI) *PipelineWorkerRecorder {
	return &PipelineWorkerRecorder{api: api, capacity: DefaultRecorderCapacity}
}

// Record loads the run and appends a record for it. Failures are logged and
// swallowed: a recording problem must not break the scale up batch it runs
// after.
func (r *PipelineWorkerRecorder) Record(runID int) {
	logging.Info("core/recorder: recording details of additional worker #%d...", runID)

	run, err := r.api.LoadRun(runID)
	if err != nil {
		logging.Crucial("core/recorder: recording details of additional worker "+
			"#%d has failed due to %v", runID, err)
		return
	}

	record := structs.WorkerRecord{
		ID:                              runID,
		Name:                            run.PodID,
		InstanceType:                    run.Instance.NodeType,
		Started:                         parseRunDate(run.StartDate),
		Stopped:                         parseRunDate(run.EndDate),
		HasInsufficientInstanceCapacity: hasInsufficientInstanceCapacity(run),
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.records = append(r.records, record)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
}

// Get returns a copy of the current records, oldest first.
func (r *PipelineWorkerRecorder) Get() []structs.WorkerRecord {
	r.lock.Lock()
	defer r.lock.Unlock()
	records := make([]structs.WorkerRecord, len(r.records))
	copy(records, r.records)
	return records
}

// Clear drops all records.
func (r *PipelineWorkerRecorder) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records = nil
}

func parseRunDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(recorderDatetimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func hasInsufficientInstanceCapacity(run *structs.PipelineRun) bool {
	if run.Status == structs.RunStatusFailure &&
		run.StateReasonMessage == insufficientCapacityReason {
		logging.Warning("core/recorder: insufficient instance capacity detected "+
			"for %s instance type", run.Instance.NodeType)
		return true
	}
	return false
}
