package autoscaler

import (
	"time"

	"github.com/epam/sge-autoscaler/logging"
)

// Runner is the autoscaling daemon loop. Each tick it reaps broken workers,
// evaluates scaling and synchronizes run tags. The tick is the error
// boundary: whatever fails inside it is logged and the loop proceeds.
type Runner struct {
	autoscaler        *Autoscaler
	workerValidator   *WorkerValidator
	workerTagsHandler *WorkerTagsHandler

	// pollingTimeout is the pause between daemon ticks.
	pollingTimeout time.Duration

	// doneChan is where finish notifications occur.
	doneChan chan struct{}
}

// NewRunner sets up the Runner type.
func NewRunner(autoscaler *Autoscaler, workerValidator *WorkerValidator,
	workerTagsHandler *WorkerTagsHandler, pollingTimeout time.Duration) *Runner {

	return &Runner{
		autoscaler:        autoscaler,
		workerValidator:   workerValidator,
		workerTagsHandler: workerTagsHandler,
		pollingTimeout:    pollingTimeout,
		doneChan:          make(chan struct{}),
	}
}

// Start blocks running daemon ticks until Stop is called.
func (r *Runner) Start() {
	logging.Info("core/runner: launching grid engine autoscaling daemon...")

	ticker := time.NewTicker(r.pollingTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.doneChan:
			return
		}
	}
}

// Stop halts the execution of this runner after the in-flight tick, if any,
// completes.
func (r *Runner) Stop() {
	close(r.doneChan)
}

func (r *Runner) tick() {
	if err := r.workerValidator.Validate(); err != nil {
		logging.Warning("core/runner: workers validation has failed due to %v", err)
	}
	if err := r.autoscaler.Scale(); err != nil {
		logging.Warning("core/runner: scaling has failed due to %v", err)
	}
	r.workerTagsHandler.ProcessTags()
}
