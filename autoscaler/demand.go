package autoscaler

import (
	"sort"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// DemandSelector converts waiting jobs into resource demands, taking the
// free capacity already present in the cluster into account for jobs that
// may span hosts.
type DemandSelector struct {
	gridEngine structs.GridEngine
}

// NewDemandSelector returns a demand selector on top of a grid engine
// client.
func NewDemandSelector(gridEngine structs.GridEngine) *DemandSelector {
	return &DemandSelector{gridEngine: gridEngine}
}

// Select yields one demand per job ordered by root job id. A fractional job
// that is fully covered by the current free supply still yields a one cpu
// demand so that a "room for one more" signal keeps driving scale up.
func (s *DemandSelector) Select(jobs []*structs.Job) ([]structs.ResourceDemand, error) {
	supplies, err := s.gridEngine.GetHostSupplies()
	if err != nil {
		return nil, err
	}
	remainingSupply := structs.ResourceSupply{}
	for _, supply := range supplies {
		remainingSupply = remainingSupply.Add(supply)
	}

	sorted := make([]*structs.Job, len(jobs))
	copy(sorted, jobs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RootID < sorted[j].RootID
	})

	allocationRules := make(map[string]structs.AllocationRule)
	demands := make([]structs.ResourceDemand, 0, len(sorted))
	for _, job := range sorted {
		rule, ok := allocationRules[job.PE]
		if !ok {
			rule, err = s.gridEngine.GetPEAllocationRule(job.PE)
			if err != nil {
				return nil, err
			}
			allocationRules[job.PE] = rule
		}

		if !rule.Fractional() {
			demands = append(demands, structs.IntegralDemand(job.CPU, 0, 0, job.User))
			continue
		}

		remainingDemand := structs.FractionalDemand(job.CPU, 0, 0, job.User)
		remainingDemand, remainingSupply = remainingDemand.Subtract(remainingSupply)
		if !remainingDemand.NonZero() {
			remainingDemand = structs.FractionalDemand(1, 0, 0, job.User)
		}
		demands = append(demands, remainingDemand)
	}
	return demands, nil
}

// JobValidator rejects jobs which no possible cluster configuration can
// satisfy: integral jobs bigger than the biggest single instance and
// fractional jobs bigger than the fully populated cluster.
type JobValidator struct {
	gridEngine        structs.GridEngine
	instanceMaxSupply structs.ResourceSupply
	clusterMaxSupply  structs.ResourceSupply
}

// NewJobValidator returns a job validator for the given capacity limits.
func NewJobValidator(gridEngine structs.GridEngine, instanceMaxSupply,
	clusterMaxSupply structs.ResourceSupply) *JobValidator {

	return &JobValidator{
		gridEngine:        gridEngine,
		instanceMaxSupply: instanceMaxSupply,
		clusterMaxSupply:  clusterMaxSupply,
	}
}

// Validate partitions jobs into satisfiable and unsatisfiable ones.
func (v *JobValidator) Validate(jobs []*structs.Job) (valid, invalid []*structs.Job, err error) {
	allocationRules := make(map[string]structs.AllocationRule)
	for _, job := range jobs {
		rule, ok := allocationRules[job.PE]
		if !ok {
			rule, err = v.gridEngine.GetPEAllocationRule(job.PE)
			if err != nil {
				return nil, nil, err
			}
			allocationRules[job.PE] = rule
		}

		jobDemand := structs.IntegralDemand(job.CPU, job.GPU, job.Mem, job.User)
		if rule.Fractional() {
			if jobDemand.Gt(v.clusterMaxSupply) {
				logging.Crucial("core/validator: invalid job #%v %v by %v requires "+
					"resources which cannot be satisfied by the cluster: "+
					"%d/%d cpu, %d/%d gpu, %d/%d mem",
					job.ID, job.Name, job.User,
					job.CPU, v.clusterMaxSupply.CPU,
					job.GPU, v.clusterMaxSupply.GPU,
					job.Mem, v.clusterMaxSupply.Mem)
				invalid = append(invalid, job)
				continue
			}
		} else {
			if jobDemand.Gt(v.instanceMaxSupply) {
				logging.Crucial("core/validator: invalid job #%v %v by %v requires "+
					"resources which cannot be satisfied by the biggest instance "+
					"in cluster: %d/%d cpu, %d/%d gpu, %d/%d mem",
					job.ID, job.Name, job.User,
					job.CPU, v.instanceMaxSupply.CPU,
					job.GPU, v.instanceMaxSupply.GPU,
					job.Mem, v.instanceMaxSupply.Mem)
				invalid = append(invalid, job)
				continue
			}
		}
		valid = append(valid, job)
	}
	return valid, invalid, nil
}
