package cloud

import (
	"reflect"
	"testing"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

type staticProvider struct {
	instances []structs.Instance
}

func (p *staticProvider) Provide() ([]structs.Instance, error) {
	return p.instances, nil
}

type staticRecorder struct {
	records []structs.WorkerRecord
}

func (r *staticRecorder) Record(runID int)            {}
func (r *staticRecorder) Get() []structs.WorkerRecord { return r.records }
func (r *staticRecorder) Clear()                      { r.records = nil }

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func awsInstances() []structs.Instance {
	return []structs.Instance{
		{Name: "m5.large", PriceType: "on_demand", CPU: 2, Mem: 8},
		{Name: "m5.xlarge", PriceType: "on_demand", CPU: 4, Mem: 16},
		{Name: "m5.2xlarge", PriceType: "on_demand", CPU: 8, Mem: 32},
		{Name: "c5.xlarge", PriceType: "on_demand", CPU: 4, Mem: 8},
	}
}

func TestDefaultInstanceProvider(t *testing.T) {
	provider := NewDefaultInstanceProvider(&staticProvider{awsInstances()}, "m5.xlarge")

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Name != "m5.xlarge" {
		t.Fatalf("expected only m5.xlarge, got %v", instances)
	}
}

func TestFamilyInstanceProvider(t *testing.T) {
	provider := NewFamilyInstanceProvider(&staticProvider{awsInstances()}, ProviderAWS, "m5")

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, instance := range instances {
		names = append(names, instance.Name)
	}
	expected := []string{"m5.large", "m5.xlarge", "m5.2xlarge"}
	if !reflect.DeepEqual(names, expected) {
		t.Fatalf("expected %v, got %v", expected, names)
	}
}

func TestSizeLimitingInstanceProvider(t *testing.T) {
	provider := NewSizeLimitingInstanceProvider(&staticProvider{awsInstances()}, 4)

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	for _, instance := range instances {
		if instance.CPU > 4 {
			t.Fatalf("instance %s exceeds the size limit", instance.Name)
		}
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %v", instances)
	}
}

func TestAvailableInstanceProvider(t *testing.T) {
	now := time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)
	clock := &manualClock{now: now}
	recorder := &staticRecorder{records: []structs.WorkerRecord{
		{
			ID:                              4321,
			InstanceType:                    "m5.xlarge",
			Stopped:                         now.Add(-600 * time.Second),
			HasInsufficientInstanceCapacity: true,
		},
	}}

	provider := NewAvailableInstanceProvider(&staticProvider{awsInstances()},
		recorder, 1800, clock)

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	for _, instance := range instances {
		if instance.Name == "m5.xlarge" {
			t.Fatalf("expected m5.xlarge to be circuit broken, got %v", instances)
		}
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %v", instances)
	}
}

func TestAvailableInstanceProvider_ExpiredUnavailability(t *testing.T) {
	now := time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)
	clock := &manualClock{now: now}
	recorder := &staticRecorder{records: []structs.WorkerRecord{
		{
			ID:                              4321,
			InstanceType:                    "m5.xlarge",
			Stopped:                         now.Add(-3600 * time.Second),
			HasInsufficientInstanceCapacity: true,
		},
	}}

	provider := NewAvailableInstanceProvider(&staticProvider{awsInstances()},
		recorder, 1800, clock)

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 4 {
		t.Fatalf("expected the expired circuit breaker to pass all instances, "+
			"got %v", instances)
	}
}

func TestAvailableInstanceProvider_FallsBackWhenEmpty(t *testing.T) {
	now := time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)
	clock := &manualClock{now: now}
	recorder := &staticRecorder{records: []structs.WorkerRecord{
		{
			ID:                              4321,
			InstanceType:                    "m5.xlarge",
			Stopped:                         now.Add(-600 * time.Second),
			HasInsufficientInstanceCapacity: true,
		},
	}}

	only := []structs.Instance{{Name: "m5.xlarge", CPU: 4}}
	provider := NewAvailableInstanceProvider(&staticProvider{only}, recorder,
		1800, clock)

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(instances, only) {
		t.Fatalf("expected the unfiltered fallback, got %v", instances)
	}
}

func TestDescendingInstanceProvider(t *testing.T) {
	provider := NewDescendingInstanceProvider(&staticProvider{awsInstances()})

	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(instances); i++ {
		if instances[i].CPU > instances[i-1].CPU {
			t.Fatalf("expected descending cpu order, got %v", instances)
		}
	}
}

func TestNewInstanceProvider_Modes(t *testing.T) {
	base := &staticProvider{awsInstances()}
	recorder := &staticRecorder{}
	clock := &manualClock{now: time.Date(2018, 10, 11, 14, 45, 43, 0, time.UTC)}

	// Hybrid mode spans the whole family.
	provider, err := NewInstanceProvider(base, ProviderConfig{
		CloudProvider:           ProviderAWS,
		InstanceType:            "m5.large",
		HybridAutoscale:         true,
		HybridInstanceFamily:    "m5",
		UnavailabilityDelaySecs: 1800,
	}, recorder, clock)
	if err != nil {
		t.Fatal(err)
	}
	instances, err := provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 3 {
		t.Fatalf("expected the m5 family, got %v", instances)
	}

	// Descending mode caps at the default type size and orders largest
	// first.
	provider, err = NewInstanceProvider(base, ProviderConfig{
		CloudProvider:       ProviderAWS,
		InstanceType:        "m5.xlarge",
		DescendingAutoscale: true,
	}, recorder, clock)
	if err != nil {
		t.Fatal(err)
	}
	instances, err = provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, instance := range instances {
		names = append(names, instance.Name)
	}
	expected := []string{"m5.xlarge", "m5.large"}
	if !reflect.DeepEqual(names, expected) {
		t.Fatalf("expected %v, got %v", expected, names)
	}

	// Plain mode keeps only the configured type.
	provider, err = NewInstanceProvider(base, ProviderConfig{
		CloudProvider: ProviderAWS,
		InstanceType:  "m5.large",
	}, recorder, clock)
	if err != nil {
		t.Fatal(err)
	}
	instances, err = provider.Provide()
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Name != "m5.large" {
		t.Fatalf("expected only m5.large, got %v", instances)
	}
}
