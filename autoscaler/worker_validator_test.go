package autoscaler

import (
	"testing"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/client"
	"github.com/epam/sge-autoscaler/storage"
)

func newValidatorFixture(t *testing.T) (*WorkerValidator, *fakeGridEngine,
	*fakePipelineAPI, *fakeExecutor, structs.HostStorage) {

	t.Helper()
	clock := &manualClock{now: time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)}
	ge := newFakeGridEngine()
	api := newFakePipelineAPI()
	executor := newFakeExecutor()
	hostStorage := storage.NewMemoryHostStorage(clock)

	validator := NewWorkerValidator(client.NewWorkerLauncher(executor), api,
		hostStorage, ge)
	return validator, ge, api, executor, hostStorage
}

func TestWorkerValidator_ReapsBrokenHost(t *testing.T) {
	validator, ge, api, executor, hostStorage := newValidatorFixture(t)

	// The run is healthy but the grid engine reports a broken host state.
	if err := hostStorage.AddHost("pipeline-101"); err != nil {
		t.Fatal(err)
	}
	ge.invalidHosts["pipeline-101"] = true
	api.runs[101] = &structs.PipelineRun{Status: structs.RunStatusRunning}
	ge.jobs = []*structs.Job{{
		ID:    "7",
		State: structs.JobStateRunning,
		Hosts: []string{"pipeline-101"},
	}}

	if err := validator.Validate(); err != nil {
		t.Fatal(err)
	}

	if stops := executor.commands("pipe stop --yes 101"); len(stops) != 1 {
		t.Fatalf("expected the run to be stopped, got %v", executor.executed)
	}
	if len(ge.disabled) != 1 || ge.disabled[0] != "pipeline-101" {
		t.Fatalf("expected the host to be disabled, got %v", ge.disabled)
	}
	if len(ge.killed) != 1 || ge.killed[0][0] != "7" {
		t.Fatalf("expected the lingering job to be force killed, got %v", ge.killed)
	}
	if len(ge.deleted) != 1 || ge.deleted[0] != "pipeline-101" {
		t.Fatalf("expected the host to be deleted from GE, got %v", ge.deleted)
	}
	if cleanups := executor.commands(`remove_from_hosts "pipeline-101"`); len(cleanups) != 1 {
		t.Fatalf("expected the hosts file cleanup, got %v", executor.executed)
	}
	hosts, err := hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected the host to leave the storage, got %v", hosts)
	}
}

func TestWorkerValidator_ReapsStoppedRun(t *testing.T) {
	validator, _, api, executor, hostStorage := newValidatorFixture(t)

	if err := hostStorage.AddHost("pipeline-101"); err != nil {
		t.Fatal(err)
	}
	api.runs[101] = &structs.PipelineRun{Status: "STOPPED"}

	if err := validator.Validate(); err != nil {
		t.Fatal(err)
	}

	hosts, err := hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected the host to leave the storage, got %v", hosts)
	}
	if stops := executor.commands("pipe stop --yes 101"); len(stops) != 1 {
		t.Fatalf("expected the run to be stopped, got %v", executor.executed)
	}
}

func TestWorkerValidator_TransientLookupFailureKeepsHost(t *testing.T) {
	validator, _, api, _, hostStorage := newValidatorFixture(t)

	if err := hostStorage.AddHost("pipeline-101"); err != nil {
		t.Fatal(err)
	}
	// A non API failure is treated as transient.
	api.runErrs[101] = &structs.HTTPError{StatusCode: 502}

	if err := validator.Validate(); err != nil {
		t.Fatal(err)
	}

	hosts, err := hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 {
		t.Fatalf("expected the host to survive a transient failure, got %v", hosts)
	}
}

func TestWorkerValidator_APIErrorReapsHost(t *testing.T) {
	validator, _, api, _, hostStorage := newValidatorFixture(t)

	if err := hostStorage.AddHost("pipeline-101"); err != nil {
		t.Fatal(err)
	}
	api.runErrs[101] = &structs.APIError{Status: "ERROR", Message: "not found"}

	if err := validator.Validate(); err != nil {
		t.Fatal(err)
	}

	hosts, err := hostStorage.LoadHosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected the host to be reaped on an API error, got %v", hosts)
	}
}
