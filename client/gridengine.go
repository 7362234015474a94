package client

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Grid engine CLI command templates.
const (
	cmdQstat                = `qstat -u "*" -r -f -xml`
	cmdQhost                = `qhost -q -xml`
	cmdShowPEAllocationRule = `qconf -sp %s | grep "^allocation_rule" | awk '{print $2}'`
	cmdShowExecutionHost    = `qconf -se %s`
	cmdDeleteHost           = `qconf -de %s`
	cmdRemoveAdminHost      = `qconf -dh %s`
	cmdRemoveFromHostgroup  = `qconf -dattr hostgroup hostlist %s %s`
	cmdPurgeQueueSlots      = `qconf -purge queue slots %s@%s`
	cmdShutdownExecd        = `qconf -ke %s`
	cmdDisableQueueHost     = `qmod -d %s@%s`
	cmdEnableQueueHost      = `qmod -e %s@%s`
	cmdKillJobs             = `qdel %s`
	cmdForceKillJobs        = `qdel -f %s`
)

const qstatDatetimeFormat = "2006-01-02T15:04:05"

// badHostStates are the qhost state letters that exclude a host from supply
// calculations and invalidate it during worker validation.
const badHostStates = "uEd"

// Default grid engine consumable resource names for gpu and memory requests.
const (
	DefaultGpuResourceName = "gpus"
	DefaultMemResourceName = "ram"
)

// GridEngine is a client for the grid engine command line tools. It
// implements the structs.GridEngine interface for a single configured queue.
type GridEngine struct {
	executor        structs.CmdExecutor
	queue           string
	hostlist        string
	queueDefault    bool
	gpuResourceName string
	memResourceName string
}

// GridEngineConfig carries the queue scoped settings of a GridEngine client.
type GridEngineConfig struct {
	Queue           string
	Hostlist        string
	QueueDefault    bool
	GpuResourceName string
	MemResourceName string
}

// NewGridEngine returns a grid engine client for the given queue.
func NewGridEngine(executor structs.CmdExecutor, config GridEngineConfig) *GridEngine {
	gpuResource := config.GpuResourceName
	if gpuResource == "" {
		gpuResource = DefaultGpuResourceName
	}
	memResource := config.MemResourceName
	if memResource == "" {
		memResource = DefaultMemResourceName
	}

	return &GridEngine{
		executor:        executor,
		queue:           config.Queue,
		hostlist:        config.Hostlist,
		queueDefault:    config.QueueDefault,
		gpuResourceName: gpuResource,
		memResourceName: memResource,
	}
}

// qstat XML shapes. The root element and the pending section are both named
// job_info.
type qstatOutput struct {
	XMLName   xml.Name       `xml:"job_info"`
	QueueInfo qstatQueueInfo `xml:"queue_info"`
	JobInfo   qstatJobInfo   `xml:"job_info"`
}

type qstatQueueInfo struct {
	Queues []qstatQueue `xml:"Queue-List"`
}

type qstatJobInfo struct {
	Jobs []qstatJob `xml:"job_list"`
}

type qstatQueue struct {
	Name string     `xml:"name"`
	Jobs []qstatJob `xml:"job_list"`
}

type qstatJob struct {
	Number         string             `xml:"JB_job_number"`
	Name           string             `xml:"JB_name"`
	Owner          string             `xml:"JB_owner"`
	State          string             `xml:"state"`
	StartTime      string             `xml:"JAT_start_time"`
	SubmissionTime string             `xml:"JB_submission_time"`
	Tasks          string             `xml:"tasks"`
	HardReqQueue   string             `xml:"hard_req_queue"`
	RequestedPE    *qstatRequestedPE  `xml:"requested_pe"`
	HardRequests   []qstatHardRequest `xml:"hard_request"`
}

type qstatRequestedPE struct {
	Name  string `xml:"name,attr"`
	Slots string `xml:",chardata"`
}

type qstatHardRequest struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// qhost XML shapes.
type qhostOutput struct {
	XMLName xml.Name    `xml:"qhost"`
	Hosts   []qhostHost `xml:"host"`
}

type qhostHost struct {
	Name   string       `xml:"name,attr"`
	Queues []qhostQueue `xml:"queue"`
}

type qhostQueue struct {
	Name   string            `xml:"name,attr"`
	Values []qhostQueueValue `xml:"queuevalue"`
}

type qhostQueueValue struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// GetJobs lists the jobs of the configured queue, one job per array task.
// A failing qstat invocation is treated as an empty queue so that a
// scheduler hiccup does not abort the whole tick.
func (ge *GridEngine) GetJobs() ([]*structs.Job, error) {
	output, err := ge.executor.Execute(cmdQstat)
	if err != nil {
		logging.Warning("client/gridengine: grid engine jobs listing has failed")
		return nil, nil
	}

	var parsed qstatOutput
	if err := xml.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, structs.NewParsingError("malformed qstat xml: %v", err)
	}

	jobs := make(map[string]*structs.Job)
	var order []string

	collect := func(entry qstatJob, queueAndHost string) error {
		actualQueue, host := parseQueueAndHost(queueAndHost)
		if entry.HardReqQueue != "" && entry.HardReqQueue != ge.queue ||
			actualQueue != "" && actualQueue != ge.queue {
			// A job bound to another queue by request or by placement does
			// not belong to this daemon.
			return nil
		}
		if entry.HardReqQueue == "" && actualQueue == "" && !ge.queueDefault {
			// Unqueued jobs belong to the default queue daemon only.
			return nil
		}

		rootID, err := strconv.Atoi(strings.TrimSpace(entry.Number))
		if err != nil {
			return structs.NewParsingError("malformed qstat job number %q", entry.Number)
		}

		state, err := structs.JobStateFromLetterCode(strings.TrimSpace(entry.State))
		if err != nil {
			return err
		}

		rawDatetime := entry.StartTime
		if rawDatetime == "" {
			rawDatetime = entry.SubmissionTime
		}
		datetime, err := time.Parse(qstatDatetimeFormat, rawDatetime)
		if err != nil {
			return structs.NewParsingError("malformed qstat job datetime %q", rawDatetime)
		}

		pe := "local"
		cpu := 1
		if entry.RequestedPE != nil {
			if entry.RequestedPE.Name != "" {
				pe = entry.RequestedPE.Name
			}
			slots, err := strconv.Atoi(strings.TrimSpace(entry.RequestedPE.Slots))
			if err != nil {
				return structs.NewParsingError("malformed qstat pe slots %q", entry.RequestedPE.Slots)
			}
			cpu = slots
		}

		gpu := 0
		mem := 0
		for _, request := range entry.HardRequests {
			switch request.Name {
			case ge.gpuResourceName:
				value, err := strconv.Atoi(strings.TrimSpace(request.Value))
				if err != nil {
					logging.Warning("client/gridengine: job #%v by %v has invalid gpu "+
						"requirement which cannot be parsed: %v", rootID, entry.Owner, request.Value)
					continue
				}
				gpu = value
			case ge.memResourceName:
				value, err := ParseMemory(strings.TrimSpace(request.Value))
				if err != nil {
					logging.Warning("client/gridengine: job #%v by %v has invalid mem "+
						"requirement which cannot be parsed: %v", rootID, entry.Owner, request.Value)
					continue
				}
				mem = value
			}
		}

		tasks, err := parseArrayTasks(entry.Tasks)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(tasks))
		for _, task := range tasks {
			ids = append(ids, fmt.Sprintf("%d.%d", rootID, task))
		}
		if len(ids) == 0 {
			ids = append(ids, strconv.Itoa(rootID))
		}

		for _, id := range ids {
			if job, ok := jobs[id]; ok {
				if host != "" {
					job.Hosts = append(job.Hosts, host)
				}
				continue
			}
			var hosts []string
			if host != "" {
				hosts = append(hosts, host)
			}
			jobs[id] = &structs.Job{
				ID:       id,
				RootID:   rootID,
				Name:     entry.Name,
				User:     entry.Owner,
				State:    state,
				Datetime: datetime,
				Hosts:    hosts,
				CPU:      cpu,
				GPU:      gpu,
				Mem:      mem,
				PE:       pe,
			}
			order = append(order, id)
		}
		return nil
	}

	for _, queue := range parsed.QueueInfo.Queues {
		for _, entry := range queue.Jobs {
			if err := collect(entry, queue.Name); err != nil {
				return nil, err
			}
		}
	}
	for _, entry := range parsed.JobInfo.Jobs {
		if err := collect(entry, ""); err != nil {
			return nil, err
		}
	}

	result := make([]*structs.Job, 0, len(order))
	for _, id := range order {
		result = append(result, jobs[id])
	}
	return result, nil
}

// GetHostSupplies parses qhost output into the free slot supply of every
// healthy host serving the configured queue.
func (ge *GridEngine) GetHostSupplies() ([]structs.ResourceSupply, error) {
	output, err := ge.executor.Execute(cmdQhost)
	if err != nil {
		return nil, err
	}

	var parsed qhostOutput
	if err := xml.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, structs.NewParsingError("malformed qhost xml: %v", err)
	}

	var supplies []structs.ResourceSupply
	for _, host := range parsed.Hosts {
		for _, queue := range host.Queues {
			if queue.Name != ge.queue {
				continue
			}
			states := queueValue(queue, "state_string")
			if hasBadHostState(states) {
				continue
			}
			slots := queueValueInt(queue, "slots")
			used := queueValueInt(queue, "slots_used")
			resv := queueValueInt(queue, "slots_resv")
			supply := structs.ResourceSupply{CPU: slots}.
				Sub(structs.FractionalDemand(used+resv, 0, 0, ""))
			supplies = append(supplies, supply)
		}
	}
	return supplies, nil
}

// GetHostSupply returns the processor count of a single execution host as a
// cpu supply. Unknown hosts yield an empty supply.
func (ge *GridEngine) GetHostSupply(host string) structs.ResourceSupply {
	lines, err := ge.executor.ExecuteToLines(fmt.Sprintf(cmdShowExecutionHost, host))
	if err != nil {
		return structs.ResourceSupply{}
	}
	for _, line := range lines {
		if strings.Contains(line, "processors") {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) < 2 {
				continue
			}
			cpu, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			return structs.ResourceSupply{CPU: cpu}
		}
	}
	return structs.ResourceSupply{}
}

// GetPEAllocationRule looks up the allocation rule of a parallel
// environment, defaulting to $pe_slots when the rule is not reported.
func (ge *GridEngine) GetPEAllocationRule(pe string) (structs.AllocationRule, error) {
	output, err := ge.executor.Execute(fmt.Sprintf(cmdShowPEAllocationRule, pe))
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(output)
	if value == "" {
		return structs.AllocationRulePESlots, nil
	}
	return structs.ParseAllocationRule(value)
}

// DisableHost stops the queue instance on a host from accepting new jobs.
// Running jobs are not aborted.
func (ge *GridEngine) DisableHost(host string) error {
	_, err := ge.executor.Execute(fmt.Sprintf(cmdDisableQueueHost, ge.queue, host))
	return err
}

// EnableHost makes the queue instance on a host available to receive new
// jobs again.
func (ge *GridEngine) EnableHost(host string) error {
	_, err := ge.executor.Execute(fmt.Sprintf(cmdEnableQueueHost, ge.queue, host))
	return err
}

// DeleteHost completely deletes a host from the grid engine:
//  1. Shutdown host execution daemon.
//  2. Remove host from queue settings.
//  3. Remove host from host group.
//  4. Remove host from administrative hosts.
//  5. Remove host object from the grid engine.
//
// With skipOnFailure each failing step is logged and the teardown continues;
// the collected failures are reported once at the end. Without it the first
// failure aborts the teardown.
func (ge *GridEngine) DeleteHost(host string, skipOnFailure bool) error {
	steps := []struct {
		msg      string
		errorMsg string
		command  string
	}{
		{
			msg:      "Shutdown GE host execution daemon.",
			errorMsg: "Shutdown GE host execution daemon has failed.",
			command:  fmt.Sprintf(cmdShutdownExecd, host),
		},
		{
			msg:      "Remove host from queue settings.",
			errorMsg: "Removing host from queue settings has failed.",
			command:  fmt.Sprintf(cmdPurgeQueueSlots, ge.queue, host),
		},
		{
			msg:      "Remove host from host group.",
			errorMsg: "Removing host from host group has failed.",
			command:  fmt.Sprintf(cmdRemoveFromHostgroup, host, ge.hostlist),
		},
		{
			msg:      "Remove host from list of administrative hosts.",
			errorMsg: "Removing host from list of administrative hosts has failed.",
			command:  fmt.Sprintf(cmdRemoveAdminHost, host),
		},
		{
			msg:      "Remove host from GE.",
			errorMsg: "Removing host from GE has failed.",
			command:  fmt.Sprintf(cmdDeleteHost, host),
		},
	}

	var skipped *multierror.Error
	for _, step := range steps {
		logging.Info("client/gridengine: %s", step.msg)
		if _, err := ge.executor.Execute(step.command); err != nil {
			logging.Warning("client/gridengine: %s", step.errorMsg)
			if !skipOnFailure {
				return fmt.Errorf("%s: %w", step.errorMsg, err)
			}
			skipped = multierror.Append(skipped, err)
		}
	}

	if skipped.ErrorOrNil() != nil {
		logging.Warning("client/gridengine: host %s teardown finished with "+
			"skipped failures: %v", host, skipped)
	}
	return nil
}

// IsValid checks a host by asserting that its execution host object exists
// and that none of its queue states are in the bad set. Non-empty states
// outside the bad set are logged but keep the host valid.
func (ge *GridEngine) IsValid(host string) bool {
	if _, err := ge.executor.ExecuteToLines(fmt.Sprintf(cmdShowExecutionHost, host)); err != nil {
		logging.Warning("client/gridengine: execution host %s validation has "+
			"failed in GE: %v", host, err)
		return false
	}

	output, err := ge.executor.Execute(cmdQhost)
	if err != nil {
		logging.Warning("client/gridengine: execution host %s validation has "+
			"failed in GE: %v", host, err)
		return false
	}

	var parsed qhostOutput
	if err := xml.Unmarshal([]byte(output), &parsed); err != nil {
		logging.Warning("client/gridengine: execution host %s validation has "+
			"failed in GE: %v", host, err)
		return false
	}

	for _, hostObject := range parsed.Hosts {
		if hostObject.Name != host {
			continue
		}
		for _, queue := range hostObject.Queues {
			if queue.Name != ge.queue {
				continue
			}
			states := queueValue(queue, "state_string")
			for _, state := range states {
				if strings.ContainsRune(badHostStates, state) {
					logging.Warning("client/gridengine: execution host %s GE "+
						"state is %c which makes host invalid", host, state)
					return false
				}
			}
			if states != "" {
				logging.Warning("client/gridengine: execution host %s GE state "+
					"is not empty but is considered valid: %s", host, states)
			}
		}
	}
	return true
}

// KillJobs deletes the given jobs, optionally with force.
func (ge *GridEngine) KillJobs(jobs []*structs.Job, force bool) error {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}

	command := cmdKillJobs
	if force {
		command = cmdForceKillJobs
	}
	_, err := ge.executor.Execute(fmt.Sprintf(command, strings.Join(ids, " ")))
	return err
}

// ParseMemory converts a grid engine memory request into whole GiB, rounding
// up. Lowercase suffixes are decimal multipliers and uppercase suffixes are
// binary multipliers, see sge_types(1).
func ParseMemory(request string) (int, error) {
	if request == "" {
		return 0, nil
	}

	modifiers := map[byte]int64{
		'k': 1000, 'm': 1000 * 1000, 'g': 1000 * 1000 * 1000,
		'K': 1024, 'M': 1024 * 1024, 'G': 1024 * 1024 * 1024,
	}

	number := request
	var modifier int64 = 1
	if m, ok := modifiers[request[len(request)-1]]; ok {
		number = request[:len(request)-1]
		modifier = m
	}

	value, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, structs.NewParsingError("malformed memory request %q", request)
	}

	sizeInBytes := value * modifier
	sizeInGibibytes := int(math.Ceil(float64(sizeInBytes) / float64(modifiers['G'])))
	return sizeInGibibytes, nil
}

// parseArrayTasks expands a qstat tasks field, which may contain comma
// separated task ids and a-b:step ranges, into individual task ids.
func parseArrayTasks(tasks string) ([]int, error) {
	if strings.TrimSpace(tasks) == "" {
		return nil, nil
	}

	var result []int
	for _, interval := range strings.Split(tasks, ",") {
		interval = strings.TrimSpace(interval)
		if strings.Contains(interval, ":") {
			borders := strings.SplitN(interval, ":", 2)[0]
			bounds := strings.SplitN(borders, "-", 2)
			if len(bounds) != 2 {
				return nil, structs.NewParsingError("malformed qstat tasks interval %q", interval)
			}
			start, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, structs.NewParsingError("malformed qstat tasks interval %q", interval)
			}
			stop, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, structs.NewParsingError("malformed qstat tasks interval %q", interval)
			}
			for task := start; task <= stop; task++ {
				result = append(result, task)
			}
			continue
		}
		task, err := strconv.Atoi(interval)
		if err != nil {
			return nil, structs.NewParsingError("malformed qstat tasks value %q", interval)
		}
		result = append(result, task)
	}
	return result, nil
}

// parseQueueAndHost splits a qstat queue name of the form queue@host.
func parseQueueAndHost(queueAndHost string) (queue, host string) {
	if queueAndHost == "" {
		return "", ""
	}
	parts := strings.SplitN(queueAndHost, "@", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func queueValue(queue qhostQueue, name string) string {
	for _, value := range queue.Values {
		if value.Name == name {
			return strings.TrimSpace(value.Value)
		}
	}
	return ""
}

func queueValueInt(queue qhostQueue, name string) int {
	value, err := strconv.Atoi(queueValue(queue, name))
	if err != nil {
		return 0
	}
	return value
}

func hasBadHostState(states string) bool {
	for _, state := range states {
		if strings.ContainsRune(badHostStates, state) {
			return true
		}
	}
	return false
}
