package autoscaler

import (
	"reflect"
	"testing"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

func TestDemandSelector(t *testing.T) {
	ge := newFakeGridEngine()
	ge.supplies = []structs.ResourceSupply{{CPU: 2}}
	ge.allocationRules["mpi"] = structs.AllocationRuleFillUp
	ge.allocationRules["local"] = structs.AllocationRulePESlots

	jobs := []*structs.Job{
		{ID: "2", RootID: 2, User: "bob", CPU: 6, PE: "mpi"},
		{ID: "1", RootID: 1, User: "alice", CPU: 2, PE: "mpi"},
		{ID: "3", RootID: 3, User: "carol", CPU: 4, PE: "local"},
	}

	selector := NewDemandSelector(ge)
	demands, err := selector.Select(jobs)
	if err != nil {
		t.Fatal(err)
	}

	expected := []structs.ResourceDemand{
		// Job 1 is fully covered by the free supply and degrades to the one
		// cpu headroom signal.
		structs.FractionalDemand(1, 0, 0, "alice"),
		// Job 2 sees no remaining supply.
		structs.FractionalDemand(6, 0, 0, "bob"),
		// The integral job passes through untouched.
		structs.IntegralDemand(4, 0, 0, "carol"),
	}
	if !reflect.DeepEqual(demands, expected) {
		t.Fatalf("expected \n%v\n\n, got \n\n%v\n\n", expected, demands)
	}
}

func TestDemandSelector_IntegralEqualsJobRequirement(t *testing.T) {
	ge := newFakeGridEngine()
	ge.supplies = []structs.ResourceSupply{{CPU: 64}}

	jobs := []*structs.Job{{ID: "1", RootID: 1, User: "alice", CPU: 4, PE: "local"}}

	selector := NewDemandSelector(ge)
	demands, err := selector.Select(jobs)
	if err != nil {
		t.Fatal(err)
	}

	// An integral job keeps its full requirement no matter how much free
	// supply exists.
	expected := []structs.ResourceDemand{structs.IntegralDemand(4, 0, 0, "alice")}
	if !reflect.DeepEqual(demands, expected) {
		t.Fatalf("expected %v, got %v", expected, demands)
	}
}

func TestJobValidator(t *testing.T) {
	ge := newFakeGridEngine()
	ge.allocationRules["mpi"] = structs.AllocationRuleFillUp
	ge.allocationRules["local"] = structs.AllocationRulePESlots

	validator := NewJobValidator(ge,
		structs.ResourceSupply{CPU: 8, Mem: 32},
		structs.ResourceSupply{CPU: 16, Mem: 64})

	now := time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)
	jobs := []*structs.Job{
		{ID: "1", RootID: 1, CPU: 4, PE: "local", Datetime: now},
		{ID: "2", RootID: 2, CPU: 12, PE: "local", Datetime: now},
		{ID: "3", RootID: 3, CPU: 12, PE: "mpi", Datetime: now},
		{ID: "4", RootID: 4, CPU: 32, PE: "mpi", Datetime: now},
	}

	valid, invalid, err := validator.Validate(jobs)
	if err != nil {
		t.Fatal(err)
	}

	// The partition covers the input exactly.
	if len(valid)+len(invalid) != len(jobs) {
		t.Fatalf("partition lost jobs: %v + %v", valid, invalid)
	}
	seen := make(map[string]int)
	for _, job := range append(append([]*structs.Job(nil), valid...), invalid...) {
		seen[job.ID]++
	}
	for _, job := range jobs {
		if seen[job.ID] != 1 {
			t.Fatalf("job %s appears %d times in the partition", job.ID, seen[job.ID])
		}
	}

	var validIDs, invalidIDs []string
	for _, job := range valid {
		validIDs = append(validIDs, job.ID)
	}
	for _, job := range invalid {
		invalidIDs = append(invalidIDs, job.ID)
	}
	if !reflect.DeepEqual(validIDs, []string{"1", "3"}) {
		t.Fatalf("expected jobs 1 and 3 to be valid, got %v", validIDs)
	}
	if !reflect.DeepEqual(invalidIDs, []string{"2", "4"}) {
		t.Fatalf("expected jobs 2 and 4 to be invalid, got %v", invalidIDs)
	}
}
