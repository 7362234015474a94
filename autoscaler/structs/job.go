package structs

import "time"

// JobState represents the scheduler state of a grid engine job.
type JobState string

// Job states recognised by the autoscaler. Anything else reported by qstat
// maps to a parsing error.
const (
	JobStateRunning   JobState = "running"
	JobStatePending   JobState = "pending"
	JobStateSuspended JobState = "suspended"
	JobStateError     JobState = "errored"
	JobStateDeleted   JobState = "deleted"
	JobStateUnknown   JobState = "unknown"
)

// letterCodesToStates maps qstat state letter codes onto job states. See
// sge_status(1) for the combinations.
var letterCodesToStates = map[string]JobState{
	"r": JobStateRunning, "t": JobStateRunning, "Rr": JobStateRunning, "Rt": JobStateRunning,

	"qw": JobStatePending, "hqw": JobStatePending, "hRwq": JobStatePending,

	"s": JobStateSuspended, "ts": JobStateSuspended, "S": JobStateSuspended,
	"tS": JobStateSuspended, "T": JobStateSuspended, "tT": JobStateSuspended,
	"Rs": JobStateSuspended, "Rts": JobStateSuspended, "RS": JobStateSuspended,
	"RtS": JobStateSuspended, "RT": JobStateSuspended, "RtT": JobStateSuspended,

	"Eqw": JobStateError, "Ehqw": JobStateError, "EhRqw": JobStateError,

	"dr": JobStateDeleted, "dt": JobStateDeleted, "dRr": JobStateDeleted,
	"dRt": JobStateDeleted, "ds": JobStateDeleted, "dS": JobStateDeleted,
	"dT": JobStateDeleted, "dRs": JobStateDeleted, "dRS": JobStateDeleted,
	"dRT": JobStateDeleted,
}

// JobStateFromLetterCode resolves a qstat letter code into a job state. An
// unknown code yields a parsing error rather than a silent unknown state.
func JobStateFromLetterCode(code string) (JobState, error) {
	if state, ok := letterCodesToStates[code]; ok {
		return state, nil
	}
	return JobStateUnknown, NewParsingError(
		"unknown grid engine job state letter code %q", code)
}

// Job is an immutable snapshot of a grid engine job taken within a single
// autoscaler tick.
type Job struct {
	// ID is the job id including the array task id, if any, e.g. "125.3".
	ID string

	// RootID is the job id without the array task part.
	RootID int

	// Name is the job script name.
	Name string

	// User is the submitting user.
	User string

	// State is the scheduler state of the job.
	State JobState

	// Datetime is the start time for running jobs and the submission time
	// for pending ones.
	Datetime time.Time

	// Hosts lists the execution hosts of a running job.
	Hosts []string

	// CPU is the slot count from the parallel environment request.
	CPU int

	// GPU is the gpu consumable resource request.
	GPU int

	// Mem is the memory consumable resource request in GiB.
	Mem int

	// PE is the requested parallel environment name.
	PE string
}
