package structs

import "fmt"

// ResourceSupply is the compute capacity of a host or an instance type
// expressed as cpu slots, gpu consumables and memory in GiB.
type ResourceSupply struct {
	CPU int
	GPU int
	Mem int
}

// SupplyOf returns the resource supply of an instance type.
func SupplyOf(instance Instance) ResourceSupply {
	return ResourceSupply{CPU: instance.CPU, GPU: instance.GPU, Mem: instance.Mem}
}

// Add returns the componentwise sum of two supplies.
func (s ResourceSupply) Add(other ResourceSupply) ResourceSupply {
	return ResourceSupply{
		CPU: s.CPU + other.CPU,
		GPU: s.GPU + other.GPU,
		Mem: s.Mem + other.Mem,
	}
}

// Subtract applies a demand to the supply. The subtraction saturates at zero
// in both directions: the first result is the capacity left after fulfilling
// whatever could be fulfilled, the second result is the part of the demand
// the supply could not cover.
func (s ResourceSupply) Subtract(d ResourceDemand) (ResourceSupply, ResourceDemand) {
	remaining := ResourceSupply{
		CPU: maxInt(0, s.CPU-d.CPU),
		GPU: maxInt(0, s.GPU-d.GPU),
		Mem: maxInt(0, s.Mem-d.Mem),
	}
	unmet := ResourceDemand{
		CPU:        maxInt(0, d.CPU-s.CPU),
		GPU:        maxInt(0, d.GPU-s.GPU),
		Mem:        maxInt(0, d.Mem-s.Mem),
		Owner:      d.Owner,
		Fractional: d.Fractional,
	}
	return remaining, unmet
}

// Sub returns the remaining supply after applying a demand, discarding the
// unmet part.
func (s ResourceSupply) Sub(d ResourceDemand) ResourceSupply {
	remaining, _ := s.Subtract(d)
	return remaining
}

// Mul scales the supply by an integer factor.
func (s ResourceSupply) Mul(n int) ResourceSupply {
	return ResourceSupply{CPU: s.CPU * n, GPU: s.GPU * n, Mem: s.Mem * n}
}

// NonZero reports whether any capacity is left.
func (s ResourceSupply) NonZero() bool {
	return s.CPU+s.GPU+s.Mem > 0
}

func (s ResourceSupply) String() string {
	return fmt.Sprintf("supply(cpu=%d, gpu=%d, mem=%d)", s.CPU, s.GPU, s.Mem)
}

// ResourceDemand is a job resource requirement. An integral demand must be
// fulfilled by a single supply whereas a fractional demand may be split
// across several supplies. The distinction follows the allocation rule of
// the job's parallel environment.
type ResourceDemand struct {
	CPU        int
	GPU        int
	Mem        int
	Owner      string
	Fractional bool
}

// IntegralDemand builds a single host demand.
func IntegralDemand(cpu, gpu, mem int, owner string) ResourceDemand {
	return ResourceDemand{CPU: cpu, GPU: gpu, Mem: mem, Owner: owner}
}

// FractionalDemand builds a demand which may span hosts.
func FractionalDemand(cpu, gpu, mem int, owner string) ResourceDemand {
	return ResourceDemand{CPU: cpu, GPU: gpu, Mem: mem, Owner: owner, Fractional: true}
}

// Add returns the componentwise sum of two demands. The owner of the
// receiver wins when both are set.
func (d ResourceDemand) Add(other ResourceDemand) ResourceDemand {
	owner := d.Owner
	if owner == "" {
		owner = other.Owner
	}
	return ResourceDemand{
		CPU:        d.CPU + other.CPU,
		GPU:        d.GPU + other.GPU,
		Mem:        d.Mem + other.Mem,
		Owner:      owner,
		Fractional: d.Fractional,
	}
}

// Subtract applies a supply to the demand, returning the unmet remainder of
// the demand and the capacity left in the supply. Both results saturate at
// zero, so a demand and a supply never report mutual positives for the same
// component.
func (d ResourceDemand) Subtract(s ResourceSupply) (ResourceDemand, ResourceSupply) {
	remaining, unmet := s.Subtract(d)
	return unmet, remaining
}

// Sub returns the unmet remainder after applying a supply.
func (d ResourceDemand) Sub(s ResourceSupply) ResourceDemand {
	unmet, _ := d.Subtract(s)
	return unmet
}

// Minus returns the componentwise saturating difference of two demands,
// keeping the owner and kind of the receiver. It is used to derive the
// fulfilled part of a partially covered fractional demand.
func (d ResourceDemand) Minus(other ResourceDemand) ResourceDemand {
	return ResourceDemand{
		CPU:        maxInt(0, d.CPU-other.CPU),
		GPU:        maxInt(0, d.GPU-other.GPU),
		Mem:        maxInt(0, d.Mem-other.Mem),
		Owner:      d.Owner,
		Fractional: d.Fractional,
	}
}

// Gt reports whether any component of the demand strictly exceeds the
// corresponding component of the supply.
func (d ResourceDemand) Gt(s ResourceSupply) bool {
	return d.CPU > s.CPU || d.GPU > s.GPU || d.Mem > s.Mem
}

// NonZero reports whether any requirement is left.
func (d ResourceDemand) NonZero() bool {
	return d.CPU+d.GPU+d.Mem > 0
}

func (d ResourceDemand) String() string {
	kind := "integral"
	if d.Fractional {
		kind = "fractional"
	}
	return fmt.Sprintf("%s(cpu=%d, gpu=%d, mem=%d, owner=%s)",
		kind, d.CPU, d.GPU, d.Mem, d.Owner)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
