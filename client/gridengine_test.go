package client

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// fakeExecutor replays scripted command outputs and records every executed
// command.
type fakeExecutor struct {
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
	e.executed = append(e.executed, command)
	if e.failures[command] {
		return "", &structs.ExecutionError{Command: command, Stderr: "scripted failure"}
	}
	return e.outputs[command], nil
}

func (e *fakeExecutor) ExecuteToLines(command string) ([]string, error) {
	out, err := e.Execute(command)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range splitLines(out) {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

const qstatXML = `<?xml version='1.0'?>
<job_info>
  <queue_info>
    <Queue-List>
      <name>main.q@pipeline-1234</name>
      <job_list state="running">
        <JB_job_number>1</JB_job_number>
        <JB_name>align</JB_name>
        <JB_owner>alice</JB_owner>
        <state>r</state>
        <JAT_start_time>2018-10-11T14:45:43</JAT_start_time>
        <hard_req_queue>main.q</hard_req_queue>
        <requested_pe name="mpi">4</requested_pe>
        <hard_request name="ram">8G</hard_request>
      </job_list>
    </Queue-List>
  </queue_info>
  <job_info>
    <job_list state="pending">
      <JB_job_number>2</JB_job_number>
      <JB_name>count</JB_name>
      <JB_owner>bob</JB_owner>
      <state>qw</state>
      <JB_submission_time>2018-10-11T14:50:00</JB_submission_time>
      <hard_req_queue>main.q</hard_req_queue>
      <hard_request name="gpus">2</hard_request>
      <tasks>1-3:1,7</tasks>
    </job_list>
    <job_list state="pending">
      <JB_job_number>3</JB_job_number>
      <JB_name>other</JB_name>
      <JB_owner>carol</JB_owner>
      <state>qw</state>
      <JB_submission_time>2018-10-11T14:51:00</JB_submission_time>
      <hard_req_queue>batch.q</hard_req_queue>
    </job_list>
    <job_list state="pending">
      <JB_job_number>4</JB_job_number>
      <JB_name>unqueued</JB_name>
      <JB_owner>dave</JB_owner>
      <state>qw</state>
      <JB_submission_time>2018-10-11T14:52:00</JB_submission_time>
    </job_list>
  </job_info>
</job_info>`

func TestGridEngine_GetJobs(t *testing.T) {
	executor := newFakeExecutor()
	executor.outputs[cmdQstat] = qstatXML

	ge := NewGridEngine(executor, GridEngineConfig{
		Queue:    "main.q",
		Hostlist: "@allhosts",
	})

	jobs, err := ge.GetJobs()
	if err != nil {
		t.Fatal(err)
	}

	// One running job, four pending array tasks; the batch.q job and the
	// unqueued job on a non default queue are filtered out.
	if len(jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %d: %v", len(jobs), jobs)
	}

	running := jobs[0]
	expectedRunning := &structs.Job{
		ID:       "1",
		RootID:   1,
		Name:     "align",
		User:     "alice",
		State:    structs.JobStateRunning,
		Datetime: time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC),
		Hosts:    []string{"pipeline-1234"},
		CPU:      4,
		GPU:      0,
		Mem:      8,
		PE:       "mpi",
	}
	if !reflect.DeepEqual(running, expectedRunning) {
		t.Fatalf("expected \n%#v\n\n, got \n\n%#v\n\n", expectedRunning, running)
	}

	var taskIDs []string
	for _, job := range jobs[1:] {
		if job.RootID != 2 {
			t.Fatalf("expected array tasks of job 2, got %v", job)
		}
		if job.GPU != 2 {
			t.Fatalf("expected 2 gpu, got %d", job.GPU)
		}
		if job.CPU != 1 || job.PE != "local" {
			t.Fatalf("expected default pe with 1 cpu, got %d %s", job.CPU, job.PE)
		}
		taskIDs = append(taskIDs, job.ID)
	}
	sort.Strings(taskIDs)
	expectedIDs := []string{"2.1", "2.2", "2.3", "2.7"}
	if !reflect.DeepEqual(taskIDs, expectedIDs) {
		t.Fatalf("expected %v, got %v", expectedIDs, taskIDs)
	}
}

func TestGridEngine_GetJobs_DefaultQueue(t *testing.T) {
	executor := newFakeExecutor()
	executor.outputs[cmdQstat] = qstatXML

	ge := NewGridEngine(executor, GridEngineConfig{
		Queue:        "main.q",
		Hostlist:     "@allhosts",
		QueueDefault: true,
	})

	jobs, err := ge.GetJobs()
	if err != nil {
		t.Fatal(err)
	}

	// The default queue daemon additionally owns the unqueued job.
	if len(jobs) != 6 {
		t.Fatalf("expected 6 jobs, got %d", len(jobs))
	}
}

func TestGridEngine_GetJobs_FailedListing(t *testing.T) {
	executor := newFakeExecutor()
	executor.failures[cmdQstat] = true

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})

	jobs, err := ge.GetJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs on a failed listing, got %v", jobs)
	}
}

const qhostXML = `<?xml version='1.0'?>
<qhost>
  <host name='global'>
  </host>
  <host name='pipeline-1234'>
    <queue name='main.q'>
      <queuevalue name='qtype_string'>BIP</queuevalue>
      <queuevalue name='slots_used'>1</queuevalue>
      <queuevalue name='slots'>4</queuevalue>
      <queuevalue name='slots_resv'>1</queuevalue>
      <queuevalue name='state_string'></queuevalue>
    </queue>
  </host>
  <host name='pipeline-1235'>
    <queue name='main.q'>
      <queuevalue name='slots_used'>0</queuevalue>
      <queuevalue name='slots'>2</queuevalue>
      <queuevalue name='slots_resv'>0</queuevalue>
      <queuevalue name='state_string'>u</queuevalue>
    </queue>
  </host>
  <host name='pipeline-1236'>
    <queue name='batch.q'>
      <queuevalue name='slots_used'>0</queuevalue>
      <queuevalue name='slots'>8</queuevalue>
      <queuevalue name='slots_resv'>0</queuevalue>
      <queuevalue name='state_string'></queuevalue>
    </queue>
  </host>
</qhost>`

func TestGridEngine_GetHostSupplies(t *testing.T) {
	executor := newFakeExecutor()
	executor.outputs[cmdQhost] = qhostXML

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})

	supplies, err := ge.GetHostSupplies()
	if err != nil {
		t.Fatal(err)
	}

	// The unavailable host and the foreign queue host contribute nothing.
	expected := []structs.ResourceSupply{{CPU: 2}}
	if !reflect.DeepEqual(supplies, expected) {
		t.Fatalf("expected %v, got %v", expected, supplies)
	}
}

func TestGridEngine_IsValid(t *testing.T) {
	badStateXML := `<?xml version='1.0'?>
<qhost>
  <host name='pipeline-1234'>
    <queue name='main.q'>
      <queuevalue name='state_string'>E</queuevalue>
    </queue>
  </host>
</qhost>`

	executor := newFakeExecutor()
	executor.outputs[fmt.Sprintf(cmdShowExecutionHost, "pipeline-1234")] = "hostname pipeline-1234\nprocessors 2\n"
	executor.outputs[cmdQhost] = badStateXML

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})
	if ge.IsValid("pipeline-1234") {
		t.Fatalf("a host in state E must be invalid")
	}

	executor.outputs[cmdQhost] = qhostXML
	if !ge.IsValid("pipeline-1234") {
		t.Fatalf("a healthy host must be valid")
	}

	executor.failures[fmt.Sprintf(cmdShowExecutionHost, "pipeline-1234")] = true
	if ge.IsValid("pipeline-1234") {
		t.Fatalf("a host unknown to qconf must be invalid")
	}
}

func TestGridEngine_GetHostSupply(t *testing.T) {
	executor := newFakeExecutor()
	executor.outputs[fmt.Sprintf(cmdShowExecutionHost, "pipeline-1234")] = `hostname              pipeline-1234
processors            8
load_scaling          NONE
`

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})
	supply := ge.GetHostSupply("pipeline-1234")
	if supply.CPU != 8 {
		t.Fatalf("expected 8 cpu, got %d", supply.CPU)
	}
}

func TestGridEngine_DeleteHost(t *testing.T) {
	executor := newFakeExecutor()
	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q", Hostlist: "@allhosts"})

	if err := ge.DeleteHost("pipeline-1234", false); err != nil {
		t.Fatal(err)
	}

	expected := []string{
		"qconf -ke pipeline-1234",
		"qconf -purge queue slots main.q@pipeline-1234",
		"qconf -dattr hostgroup hostlist pipeline-1234 @allhosts",
		"qconf -dh pipeline-1234",
		"qconf -de pipeline-1234",
	}
	if !reflect.DeepEqual(executor.executed, expected) {
		t.Fatalf("expected \n%v\n\n, got \n\n%v\n\n", expected, executor.executed)
	}
}

func TestGridEngine_DeleteHost_SkipOnFailure(t *testing.T) {
	executor := newFakeExecutor()
	executor.failures["qconf -ke pipeline-1234"] = true
	executor.failures["qconf -purge queue slots main.q@pipeline-1234"] = true

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q", Hostlist: "@allhosts"})

	if err := ge.DeleteHost("pipeline-1234", true); err != nil {
		t.Fatalf("skip on failure must swallow step errors, got %v", err)
	}
	if len(executor.executed) != 5 {
		t.Fatalf("expected all 5 teardown steps to run, got %v", executor.executed)
	}

	executor.executed = nil
	if err := ge.DeleteHost("pipeline-1234", false); err == nil {
		t.Fatalf("expected the first failing step to abort the teardown")
	}
	if len(executor.executed) != 1 {
		t.Fatalf("expected the teardown to stop at the first step, got %v", executor.executed)
	}
}

func TestGridEngine_GetPEAllocationRule(t *testing.T) {
	executor := newFakeExecutor()
	executor.outputs[fmt.Sprintf(cmdShowPEAllocationRule, "mpi")] = "$fill_up\n"
	executor.outputs[fmt.Sprintf(cmdShowPEAllocationRule, "local")] = ""

	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})

	rule, err := ge.GetPEAllocationRule("mpi")
	if err != nil {
		t.Fatal(err)
	}
	if rule != structs.AllocationRuleFillUp {
		t.Fatalf("expected $fill_up, got %v", rule)
	}

	rule, err = ge.GetPEAllocationRule("local")
	if err != nil {
		t.Fatal(err)
	}
	if rule != structs.AllocationRulePESlots {
		t.Fatalf("expected the $pe_slots default, got %v", rule)
	}
}

func TestGridEngine_KillJobs(t *testing.T) {
	executor := newFakeExecutor()
	ge := NewGridEngine(executor, GridEngineConfig{Queue: "main.q"})

	jobs := []*structs.Job{{ID: "1"}, {ID: "2.3"}}
	if err := ge.KillJobs(jobs, false); err != nil {
		t.Fatal(err)
	}
	if err := ge.KillJobs(jobs, true); err != nil {
		t.Fatal(err)
	}

	expected := []string{"qdel 1 2.3", "qdel -f 1 2.3"}
	if !reflect.DeepEqual(executor.executed, expected) {
		t.Fatalf("expected %v, got %v", expected, executor.executed)
	}
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		request  string
		expected int
	}{
		{"4G", 4},
		{"4096M", 4},
		{"0", 0},
		{"1K", 1},
		{"2g", 2},
		{"1500m", 2},
		{"", 0},
	}

	for _, c := range cases {
		got, err := ParseMemory(c.request)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", c.request, err)
		}
		if got != c.expected {
			t.Fatalf("expected %d for %q, got %d", c.expected, c.request, got)
		}
	}

	if _, err := ParseMemory("lots"); err == nil {
		t.Fatalf("expected an error for a malformed request")
	}
}

func TestParseArrayTasks(t *testing.T) {
	tasks, err := parseArrayTasks("1-3:1,7")
	if err != nil {
		t.Fatal(err)
	}
	expected := []int{1, 2, 3, 7}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("expected %v, got %v", expected, tasks)
	}

	tasks, err = parseArrayTasks("")
	if err != nil {
		t.Fatal(err)
	}
	if tasks != nil {
		t.Fatalf("expected no tasks, got %v", tasks)
	}
}
