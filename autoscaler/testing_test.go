package autoscaler

import (
	"strings"
	"sync"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// manualClock is a settable clock for deterministic tests.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

// fakeExecutor replays scripted outputs by command prefix and records every
// executed command.
type fakeExecutor struct {
	lock     sync.Mutex
	outputs  map[string]string
	failures map[string]bool
	executed []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs:  make(map[string]string),
		failures: make(map[string]bool),
	}
}

func (e *fakeExecutor) Execute(command string) (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.executed = append(e.executed, command)
	for prefix := range e.failures {
		if strings.HasPrefix(command, prefix) {
			return "", &structs.ExecutionError{Command: command, Stderr: "scripted failure"}
		}
	}
	for prefix, output := range e.outputs {
		if strings.HasPrefix(command, prefix) {
			return output, nil
		}
	}
	return "", nil
}

func (e *fakeExecutor) ExecuteToLines(command string) ([]string, error) {
	out, err := e.Execute(command)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (e *fakeExecutor) commands(prefix string) []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	var matched []string
	for _, command := range e.executed {
		if strings.HasPrefix(command, prefix) {
			matched = append(matched, command)
		}
	}
	return matched
}

// fakeGridEngine is a scripted grid engine client.
type fakeGridEngine struct {
	lock sync.Mutex

	jobs            []*structs.Job
	supplies        []structs.ResourceSupply
	hostSupplies    map[string]structs.ResourceSupply
	allocationRules map[string]structs.AllocationRule
	invalidHosts    map[string]bool

	disabled []string
	enabled  []string
	deleted  []string
	killed   [][]string
}

func newFakeGridEngine() *fakeGridEngine {
	return &fakeGridEngine{
		hostSupplies:    make(map[string]structs.ResourceSupply),
		allocationRules: make(map[string]structs.AllocationRule),
		invalidHosts:    make(map[string]bool),
	}
}

func (ge *fakeGridEngine) GetJobs() ([]*structs.Job, error) {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	return append([]*structs.Job(nil), ge.jobs...), nil
}

func (ge *fakeGridEngine) GetHostSupplies() ([]structs.ResourceSupply, error) {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	return append([]structs.ResourceSupply(nil), ge.supplies...), nil
}

func (ge *fakeGridEngine) GetHostSupply(host string) structs.ResourceSupply {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	return ge.hostSupplies[host]
}

func (ge *fakeGridEngine) GetPEAllocationRule(pe string) (structs.AllocationRule, error) {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	if rule, ok := ge.allocationRules[pe]; ok {
		return rule, nil
	}
	return structs.AllocationRulePESlots, nil
}

func (ge *fakeGridEngine) DisableHost(host string) error {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	ge.disabled = append(ge.disabled, host)
	return nil
}

func (ge *fakeGridEngine) EnableHost(host string) error {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	ge.enabled = append(ge.enabled, host)
	return nil
}

func (ge *fakeGridEngine) DeleteHost(host string, skipOnFailure bool) error {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	ge.deleted = append(ge.deleted, host)
	return nil
}

func (ge *fakeGridEngine) IsValid(host string) bool {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	return !ge.invalidHosts[host]
}

func (ge *fakeGridEngine) KillJobs(jobs []*structs.Job, force bool) error {
	ge.lock.Lock()
	defer ge.lock.Unlock()
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	ge.killed = append(ge.killed, ids)
	return nil
}

// fakePipelineAPI is a scripted pipeline API client.
type fakePipelineAPI struct {
	lock sync.Mutex

	runs    map[int]*structs.PipelineRun
	runErrs map[int]error
	tasks   map[int][]structs.RunTask
	tags    map[int]map[string]string
	allowed []structs.Instance
	prefs   map[string]string
}

func newFakePipelineAPI() *fakePipelineAPI {
	return &fakePipelineAPI{
		runs:    make(map[int]*structs.PipelineRun),
		runErrs: make(map[int]error),
		tasks:   make(map[int][]structs.RunTask),
		tags:    make(map[int]map[string]string),
		prefs:   make(map[string]string),
	}
}

func (api *fakePipelineAPI) LoadRun(runID int) (*structs.PipelineRun, error) {
	api.lock.Lock()
	defer api.lock.Unlock()
	if err := api.runErrs[runID]; err != nil {
		return nil, err
	}
	if run, ok := api.runs[runID]; ok {
		copied := *run
		return &copied, nil
	}
	return &structs.PipelineRun{}, nil
}

func (api *fakePipelineAPI) LoadTask(runID int, task string) ([]structs.RunTask, error) {
	api.lock.Lock()
	defer api.lock.Unlock()
	return api.tasks[runID], nil
}

func (api *fakePipelineAPI) UpdateRunTags(runID int, tags map[string]string) error {
	api.lock.Lock()
	defer api.lock.Unlock()
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	api.tags[runID] = copied
	if run, ok := api.runs[runID]; ok {
		run.Tags = copied
	}
	return nil
}

func (api *fakePipelineAPI) GetAllowedInstanceTypes(regionID string, spot bool) ([]structs.Instance, error) {
	api.lock.Lock()
	defer api.lock.Unlock()
	return append([]structs.Instance(nil), api.allowed...), nil
}

func (api *fakePipelineAPI) RetrievePreference(preference, defaultValue string) string {
	api.lock.Lock()
	defer api.lock.Unlock()
	if value, ok := api.prefs[preference]; ok {
		return value
	}
	return defaultValue
}

// staticInstanceProvider serves a fixed instance list.
type staticInstanceProvider struct {
	instances []structs.Instance
}

func (p *staticInstanceProvider) Provide() ([]structs.Instance, error) {
	return p.instances, nil
}

// noopRecorder satisfies the recorder interface without any behavior.
type noopRecorder struct {
	recorded []int
}

func (r *noopRecorder) Record(runID int) { r.recorded = append(r.recorded, runID) }

func (r *noopRecorder) Get() []structs.WorkerRecord { return nil }

func (r *noopRecorder) Clear() {}
