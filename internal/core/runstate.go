package core

import (
	"sync"
	"sync/atomic"

	"ngescape/internal/models"
)

// State is the lifecycle phase of a run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RunState is shared by every worker of one run. The stopping flag only ever
// goes from false to true. Results must only be read once the run is Finished.
type RunState struct {
	state    atomic.Int32
	stopping atomic.Bool

	mu      sync.Mutex
	results []models.VulnerableResult
}

// NewRunState returns an Idle run state.
func NewRunState() *RunState {
	return &RunState{}
}

// Start moves Idle to Running.
func (r *RunState) Start() {
	r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

// Stop sets the stopping flag. It is safe to call repeatedly and from any goroutine.
func (r *RunState) Stop() {
	r.stopping.Store(true)
	r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Stopping reports whether new work should be abandoned.
func (r *RunState) Stopping() bool {
	return r.stopping.Load()
}

// Finish marks the run as Finished. The stopping flag is set as well.
func (r *RunState) Finish() {
	r.stopping.Store(true)
	r.state.Store(int32(StateFinished))
}

// State returns the current lifecycle phase.
func (r *RunState) State() State {
	return State(r.state.Load())
}

// Append records a verified result and returns the new total.
func (r *RunState) Append(res models.VulnerableResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return len(r.results)
}

// Len returns the number of results recorded so far.
func (r *RunState) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// Results returns a copy of the results in arrival order.
func (r *RunState) Results() []models.VulnerableResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.VulnerableResult, len(r.results))
	copy(out, r.results)
	return out
}
