package client

import (
	"strings"
	"testing"
)

func TestWorkerLauncher_LaunchRun(t *testing.T) {
	executor := newFakeExecutor()
	launcher := NewWorkerLauncher(executor)

	params := LaunchParams{
		InstanceDisk:  "20",
		InstanceImage: "library/centos:7",
		CmdTemplate:   "sleep infinity",
		ParentRunID:   "1234",
		PriceType:     "on_demand",
		RegionID:      "1",
		LaunchSystemParams: map[string]string{
			"CP_CAP_SGE": "false",
		},
	}

	expectedCommand := `pipe run --yes --quiet ` +
		`--instance-disk 20 ` +
		`--instance-type m5.large ` +
		`--docker-image library/centos:7 ` +
		`--cmd-template "sleep infinity" ` +
		`--parent-id 1234 ` +
		`--price-type on-demand ` +
		`--region-id 1 ` +
		`cluster_role worker ` +
		`cluster_role_type additional ` +
		`CP_CAP_SGE false ` +
		`CP_CAP_AUTOSCALE_OWNER alice`
	executor.outputs[expectedCommand] = "4321\n"

	runID, err := launcher.LaunchRun(params, "m5.large", "CP_CAP_AUTOSCALE_OWNER", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if runID != 4321 {
		t.Fatalf("expected run id 4321, got %d", runID)
	}
}

func TestWorkerLauncher_StopRun(t *testing.T) {
	executor := newFakeExecutor()
	launcher := NewWorkerLauncher(executor)

	if err := launcher.StopRun(4321); err != nil {
		t.Fatal(err)
	}
	if len(executor.executed) != 1 || executor.executed[0] != "pipe stop --yes 4321" {
		t.Fatalf("unexpected commands: %v", executor.executed)
	}
}

func TestRunIDFromHost(t *testing.T) {
	runID, err := RunIDFromHost("pipeline-4321")
	if err != nil {
		t.Fatal(err)
	}
	if runID != 4321 {
		t.Fatalf("expected 4321, got %d", runID)
	}

	if _, err := RunIDFromHost("master"); err == nil {
		t.Fatalf("expected an error for a host without a run id")
	}
}

func TestPipeCliPriceType(t *testing.T) {
	if got := pipeCliPriceType("on_demand"); got != "on-demand" {
		t.Fatalf("expected on-demand, got %s", got)
	}
	if got := pipeCliPriceType("spot"); got != "spot" {
		t.Fatalf("expected spot, got %s", got)
	}
}

func TestParametersStr_Deterministic(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "c": "3"}
	if got := parametersStr(params); !strings.HasPrefix(got, "a 1 b 2") {
		t.Fatalf("expected sorted parameters, got %q", got)
	}
}
