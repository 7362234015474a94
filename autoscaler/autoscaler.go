package autoscaler

import (
	"time"

	"github.com/dariubs/percent"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Autoscaler drives the scaling decisions for a single grid engine queue.
//
// It scales up additional workers if some jobs are waiting in the queue for
// more than the configured interval, and scales down existing additional
// workers if there are no waiting jobs and no new jobs arrived for the
// configured interval.
type Autoscaler struct {
	gridEngine            structs.GridEngine
	jobValidator          *JobValidator
	demandSelector        *DemandSelector
	scaleUpOrchestrator   *ScaleUpOrchestrator
	scaleDownOrchestrator *ScaleDownOrchestrator
	hostStorage           structs.HostStorage
	staticHostStorage     structs.HostStorage

	scaleUpTimeout     time.Duration
	scaleDownTimeout   time.Duration
	idleTimeout        time.Duration
	maxAdditionalHosts int
	clock              structs.Clock

	latestRunningJob *structs.Job
}

// AutoscalerConfig bundles the autoscaler dependencies and thresholds.
type AutoscalerConfig struct {
	GridEngine            structs.GridEngine
	JobValidator          *JobValidator
	DemandSelector        *DemandSelector
	ScaleUpOrchestrator   *ScaleUpOrchestrator
	ScaleDownOrchestrator *ScaleDownOrchestrator
	HostStorage           structs.HostStorage
	StaticHostStorage     structs.HostStorage

	ScaleUpTimeout     time.Duration
	ScaleDownTimeout   time.Duration
	IdleTimeout        time.Duration
	MaxAdditionalHosts int
	Clock              structs.Clock
}

// NewAutoscaler returns an autoscaler.
func NewAutoscaler(config AutoscalerConfig) *Autoscaler {
	return &Autoscaler{
		gridEngine:            config.GridEngine,
		jobValidator:          config.JobValidator,
		demandSelector:        config.DemandSelector,
		scaleUpOrchestrator:   config.ScaleUpOrchestrator,
		scaleDownOrchestrator: config.ScaleDownOrchestrator,
		hostStorage:           config.HostStorage,
		staticHostStorage:     config.StaticHostStorage,
		scaleUpTimeout:        config.ScaleUpTimeout,
		scaleDownTimeout:      config.ScaleDownTimeout,
		idleTimeout:           config.IdleTimeout,
		maxAdditionalHosts:    config.MaxAdditionalHosts,
		clock:                 config.Clock,
	}
}

// Scale performs one scaling evaluation and the resulting scale up or scale
// down, if any.
func (a *Autoscaler) Scale() error {
	now := a.clock.Now()
	logging.Info("core/autoscaler: init: scaling")

	additionalHosts, err := a.hostStorage.LoadHosts()
	if err != nil {
		return err
	}
	a.logWorkerUtilization(len(additionalHosts))

	updatedJobs, err := a.gridEngine.GetJobs()
	if err != nil {
		return err
	}

	var runningJobs []*structs.Job
	for _, job := range updatedJobs {
		if job.State == structs.JobStateRunning {
			runningJobs = append(runningJobs, job)
		}
	}
	if len(runningJobs) > 0 {
		if err := a.hostStorage.UpdateRunningJobsHostActivity(runningJobs, now); err != nil {
			return err
		}
		if err := a.staticHostStorage.UpdateRunningJobsHostActivity(runningJobs, now); err != nil {
			return err
		}
		latest := runningJobs[0]
		for _, job := range runningJobs[1:] {
			if job.Datetime.After(latest.Datetime) {
				latest = job
			}
		}
		a.latestRunningJob = latest
	}

	if a.maxAdditionalHosts == 0 {
		logging.Info("core/autoscaler: done: scaling")
		return nil
	}

	var pendingJobs []*structs.Job
	for _, job := range updatedJobs {
		if job.State == structs.JobStatePending {
			pendingJobs = append(pendingJobs, job)
		}
	}
	waitingJobs, err := a.validJobs(pendingJobs)
	if err != nil {
		return err
	}
	logging.Info("core/autoscaler: there are %d waiting jobs", len(waitingJobs))

	if len(waitingJobs) > 0 {
		var expiredJobs []*structs.Job
		for _, job := range waitingJobs {
			if !now.Before(job.Datetime.Add(a.scaleUpTimeout)) {
				expiredJobs = append(expiredJobs, job)
			}
		}
		switch {
		case len(expiredJobs) == 0:
			logging.Info("core/autoscaler: there are 0 waiting jobs that are in "+
				"queue for more than %s. Scaling up is not required.", a.scaleUpTimeout)
		case len(additionalHosts) < a.maxAdditionalHosts:
			logging.Info("core/autoscaler: there are %d waiting jobs that are in "+
				"queue for more than %s. Scaling up is required.",
				len(expiredJobs), a.scaleUpTimeout)
			logging.Info("core/autoscaler: there are %d/%d additional workers. "+
				"Scaling up will be performed.", len(additionalHosts), a.maxAdditionalHosts)
			demands, err := a.demandSelector.Select(waitingJobs)
			if err != nil {
				return err
			}
			total := structs.ResourceDemand{}
			for _, demand := range demands {
				total = total.Add(demand)
			}
			logging.Info("core/autoscaler: waiting jobs require: %d cpu, %d gpu, "+
				"%d mem", total.CPU, total.GPU, total.Mem)
			logging.Info("core/autoscaler: start grid engine SCALING UP")
			if err := a.scaleUpOrchestrator.ScaleUp(demands,
				a.maxAdditionalHosts-len(additionalHosts)); err != nil {
				return err
			}
		default:
			logging.Info("core/autoscaler: there are %d/%d additional workers. "+
				"Scaling up is aborted.", len(additionalHosts), a.maxAdditionalHosts)
			logging.Info("core/autoscaler: probable deadlock situation observed. " +
				"Scaling down will be attempted.")
			if err := a.scaleDown(runningJobs, additionalHosts, nil); err != nil {
				return err
			}
		}
	} else {
		switch {
		case a.latestRunningJob != nil &&
			!now.Before(a.latestRunningJob.Datetime.Add(a.scaleDownTimeout)):
			logging.Info("core/autoscaler: latest started job with id %s has "+
				"started at %s", a.latestRunningJob.ID, a.latestRunningJob.Datetime)
			logging.Info("core/autoscaler: latest job started more than %s ago. "+
				"Scaling down is required.", a.scaleDownTimeout)
			if err := a.scaleDown(runningJobs, additionalHosts, &now); err != nil {
				return err
			}
		case a.latestRunningJob != nil:
			logging.Info("core/autoscaler: latest job started less than %s ago. "+
				"Scaling down is not required.", a.scaleDownTimeout)
		default:
			logging.Info("core/autoscaler: there are 0 previously running jobs. " +
				"Scaling down is required.")
			if err := a.scaleDown(runningJobs, additionalHosts, &now); err != nil {
				return err
			}
		}
	}

	postScaleHosts, err := a.hostStorage.LoadHosts()
	if err != nil {
		return err
	}
	a.logWorkerUtilization(len(postScaleHosts))
	logging.Info("core/autoscaler: done: scaling")
	return nil
}

func (a *Autoscaler) logWorkerUtilization(additionalHosts int) {
	if a.maxAdditionalHosts > 0 {
		logging.Info("core/autoscaler: there are %d/%d additional workers "+
			"(%.1f%% of capacity in use)", additionalHosts, a.maxAdditionalHosts,
			percent.PercentOf(additionalHosts, a.maxAdditionalHosts))
		return
	}
	logging.Info("core/autoscaler: there are %d/%d additional workers",
		additionalHosts, a.maxAdditionalHosts)
}

func (a *Autoscaler) validJobs(jobs []*structs.Job) ([]*structs.Job, error) {
	logging.Info("core/autoscaler: validating %d jobs...", len(jobs))
	validJobs, invalidJobs, err := a.jobValidator.Validate(jobs)
	if err != nil {
		return nil, err
	}
	if len(invalidJobs) > 0 {
		ids := make([]string, 0, len(invalidJobs))
		for _, job := range invalidJobs {
			ids = append(ids, job.ID)
		}
		logging.Crucial("core/autoscaler: the following jobs cannot be satisfied "+
			"with the requested resources and therefore will be killed: #%v", ids)
		if err := a.gridEngine.KillJobs(invalidJobs, false); err != nil {
			return nil, err
		}
	}
	return validJobs, nil
}

// scaleDown retires inactive additional workers. When a scaling period start
// is given only workers idling past the idle timeout are eligible; the
// deadlock breaking path passes no period start and considers every inactive
// worker.
func (a *Autoscaler) scaleDown(runningJobs []*structs.Job, additionalHosts []string,
	scalingPeriodStart *time.Time) error {

	activeHosts := make(map[string]struct{})
	for _, job := range runningJobs {
		for _, host := range job.Hosts {
			activeHosts[host] = struct{}{}
		}
	}

	var inactiveAdditionalHosts []string
	for _, host := range additionalHosts {
		if _, active := activeHosts[host]; !active {
			inactiveAdditionalHosts = append(inactiveAdditionalHosts, host)
		}
	}

	if len(inactiveAdditionalHosts) > 0 {
		logging.Info("core/autoscaler: there are %d inactive additional workers",
			len(inactiveAdditionalHosts))
		if scalingPeriodStart != nil {
			idleHosts, err := a.filterIdleHosts(inactiveAdditionalHosts, *scalingPeriodStart)
			if err != nil {
				return err
			}
			logging.Info("core/autoscaler: there are %d idle additional workers",
				len(idleHosts))
			inactiveAdditionalHosts = idleHosts
		}
	}

	if len(inactiveAdditionalHosts) == 0 {
		logging.Info("core/autoscaler: there are 0 additional workers to scale " +
			"down. Scaling down is aborted.")
		return nil
	}

	logging.Info("core/autoscaler: scaling down will be performed")
	return a.scaleDownOrchestrator.ScaleDown(inactiveAdditionalHosts)
}

func (a *Autoscaler) filterIdleHosts(hosts []string, scalingPeriodStart time.Time) ([]string, error) {
	activity, err := a.hostStorage.GetHostsActivity(hosts)
	if err != nil {
		return nil, err
	}

	var idleHosts []string
	for _, host := range hosts {
		if !scalingPeriodStart.Before(activity[host].Add(a.idleTimeout)) {
			idleHosts = append(idleHosts, host)
		}
	}
	return idleHosts, nil
}
