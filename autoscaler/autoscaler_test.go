package autoscaler

import (
	"strings"
	"testing"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/storage"
)

// scaleFixture wires a complete autoscaler over scripted clients.
type scaleFixture struct {
	ge          *fakeGridEngine
	api         *fakePipelineAPI
	executor    *fakeExecutor
	clock       *manualClock
	hostStorage structs.HostStorage
	recorder    *noopRecorder
	scaler      *Autoscaler
}

func newScaleFixture(t *testing.T, instances []structs.Instance,
	maxAdditionalHosts int) *scaleFixture {

	t.Helper()

	clock := &manualClock{now: time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)}
	ge := newFakeGridEngine()
	api := newFakePipelineAPI()
	executor := newFakeExecutor()
	recorder := &noopRecorder{}

	hostStorage := storage.NewThreadSafeHostStorage(storage.NewMemoryHostStorage(clock))
	staticHostStorage := storage.NewMemoryHostStorage(clock)

	launcher := client.NewWorkerLauncher(executor)
	provider := &staticInstanceProvider{instances}

	tagsHandler := NewWorkerTagsHandler(api, 30*time.Second, hostStorage,
		staticHostStorage, clock)

	handler := NewScaleUpHandler(ScaleUpHandlerConfig{
		Launcher:    launcher,
		API:         api,
		GridEngine:  ge,
		HostStorage: hostStorage,
		LaunchParams: client.LaunchParams{
			InstanceDisk:  "20",
			InstanceImage: "library/centos:7",
			CmdTemplate:   "sleep infinity",
			ParentRunID:   "1234",
			PriceType:     "on_demand",
			RegionID:      "1",
		},
		OwnerParamName:   "CP_CAP_AUTOSCALE_OWNER",
		PollingTimeout:   100 * time.Millisecond,
		PollingDelay:     time.Millisecond,
		GEPollingTimeout: 100 * time.Millisecond,
		Clock:            clock,
	})

	scaleUpOrchestrator := NewScaleUpOrchestrator(ScaleUpOrchestratorConfig{
		Handler:           handler,
		GridEngine:        ge,
		HostStorage:       hostStorage,
		StaticHostStorage: staticHostStorage,
		WorkerTagsHandler: tagsHandler,
		InstanceSelector: NewCpuCapacityInstanceSelector(provider,
			structs.ResourceSupply{}),
		WorkerRecorder: recorder,
		BatchSize:      4,
		PollingDelay:   time.Millisecond,
		Clock:          clock,
	})

	scaleDownHandler := NewScaleDownHandler(launcher, ge)
	scaleDownOrchestrator := NewScaleDownOrchestrator(scaleDownHandler, ge,
		hostStorage, 4)

	jobValidator := NewJobValidator(ge,
		structs.ResourceSupply{CPU: 8, GPU: 8, Mem: 128},
		structs.ResourceSupply{CPU: 64, GPU: 64, Mem: 1024})

	scaler := NewAutoscaler(AutoscalerConfig{
		GridEngine:            ge,
		JobValidator:          jobValidator,
		DemandSelector:        NewDemandSelector(ge),
		ScaleUpOrchestrator:   scaleUpOrchestrator,
		ScaleDownOrchestrator: scaleDownOrchestrator,
		HostStorage:           hostStorage,
		StaticHostStorage:     staticHostStorage,
		ScaleUpTimeout:        30 * time.Second,
		ScaleDownTimeout:      60 * time.Second,
		IdleTimeout:           120 * time.Second,
		MaxAdditionalHosts:    maxAdditionalHosts,
		Clock:                 clock,
	})

	return &scaleFixture{
		ge:          ge,
		api:         api,
		executor:    executor,
		clock:       clock,
		hostStorage: hostStorage,
		recorder:    recorder,
		scaler:      scaler,
	}
}

func (f *scaleFixture) scriptSuccessfulLaunch(runID int, podName string) {
	f.executor.outputs["pipe run"] = "4321\n"
	f.api.runs[runID] = &structs.PipelineRun{
		Status:      structs.RunStatusRunning,
		PodID:       podName,
		PodIP:       "10.0.0.5",
		Initialized: true,
	}
	f.api.tasks[runID] = []structs.RunTask{
		{Name: "SGEWorkerSetup", Status: structs.TaskStatusSuccess},
	}
}

func TestAutoscaler_ScaleUpOneInstance(t *testing.T) {
	instances := []structs.Instance{
		{Name: "m5.large", CPU: 2, Mem: 8},
		{Name: "m5.xlarge", CPU: 4, Mem: 16},
		{Name: "m5.2xlarge", CPU: 8, Mem: 32},
	}
	f := newScaleFixture(t, instances, 2)
	f.scriptSuccessfulLaunch(4321, "pipeline-4321")

	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		Name:     "align",
		User:     "alice",
		State:    structs.JobStatePending,
		Datetime: f.clock.now.Add(-60 * time.Second),
		CPU:      4,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}

	launches := f.executor.commands("pipe run")
	if len(launches) != 1 {
		t.Fatalf("expected exactly one launch, got %v", launches)
	}
	if !strings.Contains(launches[0], "--instance-type m5.xlarge") {
		t.Fatalf("expected m5.xlarge to be launched, got %q", launches[0])
	}

	hosts, err := f.hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 || hosts[0] != "pipeline-4321" {
		t.Fatalf("expected pipeline-4321 in the host storage, got %v", hosts)
	}
	if len(f.ge.enabled) != 1 || f.ge.enabled[0] != "pipeline-4321" {
		t.Fatalf("expected pipeline-4321 to be enabled in GE, got %v", f.ge.enabled)
	}
	if len(f.recorder.recorded) != 1 || f.recorder.recorded[0] != 4321 {
		t.Fatalf("expected run 4321 to be recorded, got %v", f.recorder.recorded)
	}
}

func TestAutoscaler_FreshJobsDoNotScaleUp(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 2)

	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		User:     "alice",
		State:    structs.JobStatePending,
		Datetime: f.clock.now.Add(-10 * time.Second),
		CPU:      2,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}
	if launches := f.executor.commands("pipe run"); len(launches) != 0 {
		t.Fatalf("expected no launches for a fresh job, got %v", launches)
	}
}

func TestAutoscaler_DeadlockBreak(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 1)

	// The single allowed worker exists and showed activity only recently;
	// the deadlock breaking path must still retire it.
	if err := f.hostStorage.AddHost("pipeline-101"); err != nil {
		t.Fatal(err)
	}

	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		User:     "alice",
		State:    structs.JobStatePending,
		Datetime: f.clock.now.Add(-60 * time.Second),
		CPU:      2,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}

	if launches := f.executor.commands("pipe run"); len(launches) != 0 {
		t.Fatalf("expected no launches at full capacity, got %v", launches)
	}
	if stops := f.executor.commands("pipe stop --yes 101"); len(stops) != 1 {
		t.Fatalf("expected run 101 to be stopped, got %v", f.executor.executed)
	}
	hosts, err := f.hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected the worker to leave the storage, got %v", hosts)
	}
}

func TestAutoscaler_IdleScaleDown(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 5)

	for _, host := range []string{"pipeline-101", "pipeline-102"} {
		if err := f.hostStorage.AddHost(host); err != nil {
			t.Fatal(err)
		}
	}
	// pipeline-101 idles past the idle timeout, pipeline-102 does not.
	if err := f.hostStorage.UpdateHostsActivity([]string{"pipeline-101"},
		f.clock.now.Add(-300*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := f.hostStorage.UpdateHostsActivity([]string{"pipeline-102"},
		f.clock.now.Add(-60*time.Second)); err != nil {
		t.Fatal(err)
	}

	// The latest running job started long enough ago to trigger the scale
	// down path with the idle filter.
	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		User:     "alice",
		State:    structs.JobStateRunning,
		Datetime: f.clock.now.Add(-300 * time.Second),
		Hosts:    []string{"pipeline-master"},
		CPU:      1,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}

	if stops := f.executor.commands("pipe stop --yes 101"); len(stops) != 1 {
		t.Fatalf("expected run 101 to be stopped, got %v", f.executor.executed)
	}
	if stops := f.executor.commands("pipe stop --yes 102"); len(stops) != 0 {
		t.Fatalf("expected run 102 to be retained, got %v", f.executor.executed)
	}

	hosts, err := f.hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 || hosts[0] != "pipeline-102" {
		t.Fatalf("expected only pipeline-102 to remain, got %v", hosts)
	}
}

func TestAutoscaler_ZeroMaxAdditionalHosts(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 0)

	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		User:     "alice",
		State:    structs.JobStatePending,
		Datetime: f.clock.now.Add(-600 * time.Second),
		CPU:      2,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}
	if len(f.executor.executed) != 0 {
		t.Fatalf("expected no activity in non autoscaling mode, got %v",
			f.executor.executed)
	}
}

func TestAutoscaler_InvalidJobsAreKilled(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 2)

	// The job exceeds the biggest single instance and must be killed
	// instead of driving a scale up.
	f.ge.jobs = []*structs.Job{{
		ID:       "1",
		RootID:   1,
		User:     "alice",
		State:    structs.JobStatePending,
		Datetime: f.clock.now.Add(-60 * time.Second),
		CPU:      100,
		PE:       "local",
	}}

	if err := f.scaler.Scale(); err != nil {
		t.Fatal(err)
	}

	if len(f.ge.killed) != 1 || len(f.ge.killed[0]) != 1 || f.ge.killed[0][0] != "1" {
		t.Fatalf("expected job 1 to be killed, got %v", f.ge.killed)
	}
	if launches := f.executor.commands("pipe run"); len(launches) != 0 {
		t.Fatalf("expected no launches, got %v", launches)
	}
}

func TestScaleUpOrchestrator_ZeroMaxBatchIsNoop(t *testing.T) {
	f := newScaleFixture(t, candidateInstances(), 2)
	f.scriptSuccessfulLaunch(4321, "pipeline-4321")

	orchestrator := NewScaleUpOrchestrator(ScaleUpOrchestratorConfig{
		Handler:           nil,
		GridEngine:        f.ge,
		HostStorage:       f.hostStorage,
		StaticHostStorage: storage.NewMemoryHostStorage(f.clock),
		WorkerTagsHandler: NewWorkerTagsHandler(f.api, 30*time.Second,
			f.hostStorage, storage.NewMemoryHostStorage(f.clock), f.clock),
		InstanceSelector: NewCpuCapacityInstanceSelector(
			&staticInstanceProvider{candidateInstances()}, structs.ResourceSupply{}),
		WorkerRecorder: f.recorder,
		BatchSize:      4,
		PollingDelay:   time.Millisecond,
		Clock:          f.clock,
	})

	demands := []structs.ResourceDemand{structs.IntegralDemand(2, 0, 0, "alice")}
	if err := orchestrator.ScaleUp(demands, 0); err != nil {
		t.Fatal(err)
	}
	if launches := f.executor.commands("pipe run"); len(launches) != 0 {
		t.Fatalf("expected a zero batch to be a no-op, got %v", launches)
	}
}
