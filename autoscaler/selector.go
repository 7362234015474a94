// Package autoscaler contains the decision making core of the grid engine
// autoscaler: demand selection, instance selection, the scaling
// orchestrators, worker validation and tagging, and the daemon loop tying
// them together.
package autoscaler

import (
	"sort"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Scale up strategy names accepted by the configuration.
const (
	StrategyCpuCapacity      = "cpu-capacity"
	StrategyNaiveCpuCapacity = "naive-cpu-capacity"
	StrategyDefault          = "default"
)

// NewInstanceSelector resolves a strategy name into a selector.
func NewInstanceSelector(strategy string, provider structs.InstanceProvider,
	reservedSupply structs.ResourceSupply, batchSize int) structs.InstanceSelector {

	switch strategy {
	case StrategyCpuCapacity:
		logging.Info("core/selector: selecting instances using cpu capacity strategy...")
		return NewCpuCapacityInstanceSelector(provider, reservedSupply)
	case StrategyNaiveCpuCapacity:
		logging.Info("core/selector: selecting instances using fractional cpu capacity strategy...")
		return NewNaiveCpuCapacityInstanceSelector(provider, reservedSupply)
	default:
		logging.Info("core/selector: selecting instances using default strategy...")
		return NewBackwardCompatibleInstanceSelector(provider, reservedSupply, batchSize)
	}
}

// CpuCapacityInstanceSelector picks instances by cpu capacity: the capacity
// of an instance is the amount of job cpu requirements it can fulfill in a
// single pass. The instance fulfilling the most cpu wins each round; rounds
// repeat on the unmet remainder until nothing more can be placed.
type CpuCapacityInstanceSelector struct {
	provider       structs.InstanceProvider
	reservedSupply structs.ResourceSupply
}

// NewCpuCapacityInstanceSelector returns a cpu capacity selector.
func NewCpuCapacityInstanceSelector(provider structs.InstanceProvider,
	reservedSupply structs.ResourceSupply) *CpuCapacityInstanceSelector {

	return &CpuCapacityInstanceSelector{
		provider:       provider,
		reservedSupply: reservedSupply,
	}
}

// Select yields one instance demand per additional worker to launch.
func (s *CpuCapacityInstanceSelector) Select(demands []structs.ResourceDemand) ([]structs.InstanceDemand, error) {
	instances, err := s.provider.Provide()
	if err != nil {
		return nil, err
	}

	var selected []structs.InstanceDemand
	remainingDemands := demands
	for len(remainingDemands) > 0 {
		bestCapacity := 0
		var bestInstance *structs.Instance
		var bestRemainingDemands, bestFulfilledDemands []structs.ResourceDemand

		for i := range instances {
			instance := instances[i]
			supply := s.usableSupply(instance)
			currentRemaining, currentFulfilled := applySupply(remainingDemands, supply)

			currentCapacity := 0
			for _, fulfilled := range currentFulfilled {
				currentCapacity += fulfilled.CPU
			}
			if currentCapacity > bestCapacity {
				bestCapacity = currentCapacity
				bestInstance = &instance
				bestRemainingDemands = currentRemaining
				bestFulfilledDemands = currentFulfilled
			}
		}

		if bestInstance == nil {
			logging.Info("core/selector: there are no available instance types")
			break
		}

		owner := resolveOwner(bestFulfilledDemands)
		logging.Info("core/selector: selecting %s instance using %d/%d cpu for "+
			"%s user...", bestInstance.Name, bestCapacity, bestInstance.CPU, owner)
		selected = append(selected, structs.InstanceDemand{
			Instance: *bestInstance,
			Owner:    owner,
		})
		remainingDemands = bestRemainingDemands
	}
	return selected, nil
}

// usableSupply is the instance supply minus the cores reserved on every
// worker.
func (s *CpuCapacityInstanceSelector) usableSupply(instance structs.Instance) structs.ResourceSupply {
	return structs.SupplyOf(instance).Sub(structs.FractionalDemand(
		s.reservedSupply.CPU, s.reservedSupply.GPU, s.reservedSupply.Mem, ""))
}

// applySupply distributes a supply over the demand list in order. An
// integral demand either fits entirely or is left whole; a fractional demand
// is split to the supply's limit.
func applySupply(demands []structs.ResourceDemand,
	supply structs.ResourceSupply) (remaining, fulfilled []structs.ResourceDemand) {

	remainingSupply := supply
	for i, demand := range demands {
		if !remainingSupply.NonZero() {
			remaining = append(remaining, demands[i:]...)
			break
		}
		currentRemainingSupply, unmetDemand := remainingSupply.Subtract(demand)
		if !demand.Fractional {
			if unmetDemand.NonZero() {
				remaining = append(remaining, demand)
			} else {
				fulfilled = append(fulfilled, demand)
				remainingSupply = currentRemainingSupply
			}
			continue
		}
		if unmetDemand.NonZero() {
			remaining = append(remaining, unmetDemand)
		}
		fulfilled = append(fulfilled, demand.Minus(unmetDemand))
		remainingSupply = currentRemainingSupply
	}
	return remaining, fulfilled
}

// resolveOwner picks the owner with the biggest fulfilled cpu sum. Ties are
// broken towards the lexicographically smaller owner to keep selection
// deterministic.
func resolveOwner(demands []structs.ResourceDemand) string {
	ownerCpus := make(map[string]int)
	for _, demand := range demands {
		ownerCpus[demand.Owner] += demand.CPU
	}

	owners := make([]string, 0, len(ownerCpus))
	for owner := range ownerCpus {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	best := ""
	bestCpus := -1
	for _, owner := range owners {
		if ownerCpus[owner] > bestCpus {
			best = owner
			bestCpus = ownerCpus[owner]
		}
	}
	return best
}

// NaiveCpuCapacityInstanceSelector treats every demand as fractional before
// delegating to the cpu capacity selector. It reproduces the historical
// behavior of summing all job cpu requirements naively.
type NaiveCpuCapacityInstanceSelector struct {
	selector *CpuCapacityInstanceSelector
}

// NewNaiveCpuCapacityInstanceSelector returns a naive cpu capacity selector.
func NewNaiveCpuCapacityInstanceSelector(provider structs.InstanceProvider,
	reservedSupply structs.ResourceSupply) *NaiveCpuCapacityInstanceSelector {

	return &NaiveCpuCapacityInstanceSelector{
		selector: NewCpuCapacityInstanceSelector(provider, reservedSupply),
	}
}

// Select yields one instance demand per additional worker to launch.
func (s *NaiveCpuCapacityInstanceSelector) Select(demands []structs.ResourceDemand) ([]structs.InstanceDemand, error) {
	fractional := make([]structs.ResourceDemand, 0, len(demands))
	for _, demand := range demands {
		demand.Fractional = true
		fractional = append(fractional, demand)
	}
	return s.selector.Select(fractional)
}

// BackwardCompatibleInstanceSelector keeps non batch autoscaling working the
// way previous autoscaler versions did: batch autoscaling uses the cpu
// capacity strategy while single worker autoscaling stays naive.
type BackwardCompatibleInstanceSelector struct {
	selector structs.InstanceSelector
}

// NewBackwardCompatibleInstanceSelector returns a selector resolved by batch
// size.
func NewBackwardCompatibleInstanceSelector(provider structs.InstanceProvider,
	reservedSupply structs.ResourceSupply, batchSize int) *BackwardCompatibleInstanceSelector {

	var selector structs.InstanceSelector
	if batchSize > 1 {
		selector = NewCpuCapacityInstanceSelector(provider, reservedSupply)
	} else {
		selector = NewNaiveCpuCapacityInstanceSelector(provider, reservedSupply)
	}
	return &BackwardCompatibleInstanceSelector{selector: selector}
}

// Select yields one instance demand per additional worker to launch.
func (s *BackwardCompatibleInstanceSelector) Select(demands []structs.ResourceDemand) ([]structs.InstanceDemand, error) {
	return s.selector.Select(demands)
}
