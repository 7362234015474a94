package cloud

import (
	"sort"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// DefaultInstanceProvider keeps only the exact configured instance type.
type DefaultInstanceProvider struct {
	inner        structs.InstanceProvider
	instanceType string
}

// NewDefaultInstanceProvider returns a provider narrowed to a single type.
func NewDefaultInstanceProvider(inner structs.InstanceProvider, instanceType string) *DefaultInstanceProvider {
	return &DefaultInstanceProvider{inner: inner, instanceType: instanceType}
}

// Provide filters the inner instances down to the configured type.
func (p *DefaultInstanceProvider) Provide() ([]structs.Instance, error) {
	instances, err := p.inner.Provide()
	if err != nil {
		return nil, err
	}

	var filtered []structs.Instance
	for _, instance := range instances {
		if instance.Name == p.instanceType {
			filtered = append(filtered, instance)
		}
	}
	return filtered, nil
}

// FamilyInstanceProvider keeps the instances belonging to a single instance
// family, ordered by cpu ascending.
type FamilyInstanceProvider struct {
	inner          structs.InstanceProvider
	cloudProvider  Provider
	instanceFamily string
}

// NewFamilyInstanceProvider returns a provider narrowed to a family.
func NewFamilyInstanceProvider(inner structs.InstanceProvider, cloudProvider Provider,
	instanceFamily string) *FamilyInstanceProvider {

	return &FamilyInstanceProvider{
		inner:          inner,
		cloudProvider:  cloudProvider,
		instanceFamily: instanceFamily,
	}
}

// Provide filters the inner instances down to the family.
func (p *FamilyInstanceProvider) Provide() ([]structs.Instance, error) {
	instances, err := p.inner.Provide()
	if err != nil {
		return nil, err
	}

	var filtered []structs.Instance
	for _, instance := range instances {
		if ExtractFamily(p.cloudProvider, instance.Name) == p.instanceFamily {
			filtered = append(filtered, instance)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CPU < filtered[j].CPU
	})
	return filtered, nil
}

// SizeLimitingInstanceProvider keeps the instances whose cpu count does not
// exceed a maximum.
type SizeLimitingInstanceProvider struct {
	inner    structs.InstanceProvider
	maxCores int
}

// NewSizeLimitingInstanceProvider returns a provider capped by cpu count.
func NewSizeLimitingInstanceProvider(inner structs.InstanceProvider, maxCores int) *SizeLimitingInstanceProvider {
	return &SizeLimitingInstanceProvider{inner: inner, maxCores: maxCores}
}

// Provide filters the inner instances down to the size cap.
func (p *SizeLimitingInstanceProvider) Provide() ([]structs.Instance, error) {
	instances, err := p.inner.Provide()
	if err != nil {
		return nil, err
	}

	var filtered []structs.Instance
	for _, instance := range instances {
		if instance.CPU <= p.maxCores {
			filtered = append(filtered, instance)
		}
	}
	return filtered, nil
}

// AvailableInstanceProvider is a circuit breaker dropping the instance types
// for which a recent worker run reported insufficient cloud capacity. If
// every instance type is circuit broken the unfiltered list is used so the
// autoscaler never stalls entirely.
type AvailableInstanceProvider struct {
	inner               structs.InstanceProvider
	recorder            structs.WorkerRecorder
	unavailabilityDelay time.Duration
	clock               structs.Clock
}

// NewAvailableInstanceProvider returns an availability filtering provider.
func NewAvailableInstanceProvider(inner structs.InstanceProvider, recorder structs.WorkerRecorder,
	unavailabilityDelaySecs int, clock structs.Clock) *AvailableInstanceProvider {

	return &AvailableInstanceProvider{
		inner:               inner,
		recorder:            recorder,
		unavailabilityDelay: time.Duration(unavailabilityDelaySecs) * time.Second,
		clock:               clock,
	}
}

// Provide filters the inner instances down to the available ones, falling
// back to the unfiltered list when nothing remains.
func (p *AvailableInstanceProvider) Provide() ([]structs.Instance, error) {
	allowed, err := p.inner.Provide()
	if err != nil {
		return nil, err
	}

	var available []structs.Instance
	for _, instance := range allowed {
		if p.isAvailable(instance.Name) {
			available = append(available, instance)
		} else {
			logging.Warning("cloud/provider: circuit breaking %s instance type "+
				"because it is unavailable...", instance.Name)
		}
	}

	if len(available) > 0 {
		return available, nil
	}
	logging.Warning("cloud/provider: there are no available instance types. " +
		"Trying to use all allowed instance types...")
	return allowed, nil
}

func (p *AvailableInstanceProvider) isAvailable(instanceType string) bool {
	unavailabilityExpiration := p.clock.Now().Add(-p.unavailabilityDelay)

	var unavailability time.Time
	for _, record := range p.recorder.Get() {
		if record.InstanceType != instanceType {
			continue
		}
		if record.HasInsufficientInstanceCapacity {
			unavailability = record.Stopped
		}
	}
	return unavailability.IsZero() || unavailability.Before(unavailabilityExpiration)
}

// DescendingInstanceProvider orders the inner instances by cpu descending so
// that the biggest healthy instance type is tried first.
type DescendingInstanceProvider struct {
	inner structs.InstanceProvider
}

// NewDescendingInstanceProvider returns a descending ordering provider.
func NewDescendingInstanceProvider(inner structs.InstanceProvider) *DescendingInstanceProvider {
	return &DescendingInstanceProvider{inner: inner}
}

// Provide returns the inner instances ordered largest first.
func (p *DescendingInstanceProvider) Provide() ([]structs.Instance, error) {
	instances, err := p.inner.Provide()
	if err != nil {
		return nil, err
	}

	sorted := make([]structs.Instance, len(instances))
	copy(sorted, instances)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CPU > sorted[j].CPU
	})
	return sorted, nil
}
