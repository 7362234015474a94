package autoscaler

import (
	"reflect"
	"testing"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

func candidateInstances() []structs.Instance {
	return []structs.Instance{
		{Name: "m5.large", CPU: 2, Mem: 8},
		{Name: "m5.xlarge", CPU: 4, Mem: 16},
		{Name: "m5.2xlarge", CPU: 8, Mem: 32},
	}
}

func TestCpuCapacitySelector_IntegralDemand(t *testing.T) {
	selector := NewCpuCapacityInstanceSelector(
		&staticInstanceProvider{candidateInstances()}, structs.ResourceSupply{})

	demands := []structs.ResourceDemand{structs.IntegralDemand(4, 0, 0, "alice")}
	selected, err := selector.Select(demands)
	if err != nil {
		t.Fatal(err)
	}

	// Both the 4 and the 8 cpu instances fulfill 4 cpu; the first
	// encountered instance with the maximal capacity wins.
	if len(selected) != 1 {
		t.Fatalf("expected one instance demand, got %v", selected)
	}
	if selected[0].Instance.Name != "m5.xlarge" {
		t.Fatalf("expected m5.xlarge, got %s", selected[0].Instance.Name)
	}
	if selected[0].Owner != "alice" {
		t.Fatalf("expected owner alice, got %s", selected[0].Owner)
	}
}

func TestCpuCapacitySelector_FractionalOverflow(t *testing.T) {
	instances := []structs.Instance{
		{Name: "m5.xlarge", CPU: 4, Mem: 16},
		{Name: "m5.2xlarge", CPU: 8, Mem: 32},
	}
	selector := NewCpuCapacityInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{})

	demands := []structs.ResourceDemand{
		structs.FractionalDemand(6, 0, 0, "alice"),
		structs.FractionalDemand(6, 0, 0, "bob"),
	}
	selected, err := selector.Select(demands)
	if err != nil {
		t.Fatal(err)
	}

	// The first round fulfills 8 cpu on the big instance, the second round
	// covers the remaining 4 cpu with the small one.
	var names []string
	for _, demand := range selected {
		names = append(names, demand.Instance.Name)
	}
	expected := []string{"m5.2xlarge", "m5.xlarge"}
	if !reflect.DeepEqual(names, expected) {
		t.Fatalf("expected %v, got %v", expected, names)
	}
}

func TestCpuCapacitySelector_OwnerByBiggestCpuShare(t *testing.T) {
	instances := []structs.Instance{{Name: "m5.2xlarge", CPU: 8, Mem: 32}}
	selector := NewCpuCapacityInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{})

	demands := []structs.ResourceDemand{
		structs.IntegralDemand(2, 0, 0, "alice"),
		structs.IntegralDemand(5, 0, 0, "bob"),
	}
	selected, err := selector.Select(demands)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 1 || selected[0].Owner != "bob" {
		t.Fatalf("expected the instance to be owned by bob, got %v", selected)
	}
}

func TestCpuCapacitySelector_EmptyInstanceList(t *testing.T) {
	selector := NewCpuCapacityInstanceSelector(
		&staticInstanceProvider{nil}, structs.ResourceSupply{})

	selected, err := selector.Select([]structs.ResourceDemand{
		structs.IntegralDemand(4, 0, 0, "alice"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no selections, got %v", selected)
	}
}

func TestCpuCapacitySelector_ReservedSupply(t *testing.T) {
	instances := []structs.Instance{{Name: "m5.xlarge", CPU: 4, Mem: 16}}
	selector := NewCpuCapacityInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{CPU: 2})

	// With two cores reserved the 4 cpu instance cannot host a 3 cpu
	// integral job.
	selected, err := selector.Select([]structs.ResourceDemand{
		structs.IntegralDemand(3, 0, 0, "alice"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no selections, got %v", selected)
	}
}

func TestNaiveCpuCapacitySelector_SplitsIntegralDemands(t *testing.T) {
	instances := []structs.Instance{{Name: "m5.large", CPU: 2, Mem: 8}}
	selector := NewNaiveCpuCapacityInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{})

	selected, err := selector.Select([]structs.ResourceDemand{
		structs.IntegralDemand(4, 0, 0, "alice"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected the naive selector to split over two instances, "+
			"got %v", selected)
	}
}

func TestBackwardCompatibleSelector(t *testing.T) {
	instances := []structs.Instance{{Name: "m5.large", CPU: 2, Mem: 8}}
	demands := []structs.ResourceDemand{structs.IntegralDemand(4, 0, 0, "alice")}

	// Batch autoscaling keeps integral semantics: a 4 cpu single host job
	// does not fit a 2 cpu instance.
	batch := NewBackwardCompatibleInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{}, 2)
	selected, err := batch.Select(demands)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no selections, got %v", selected)
	}

	// Single worker autoscaling behaves naively.
	single := NewBackwardCompatibleInstanceSelector(
		&staticInstanceProvider{instances}, structs.ResourceSupply{}, 1)
	selected, err = single.Select(demands)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected two selections, got %v", selected)
	}
}
