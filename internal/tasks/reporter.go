package tasks

// Reporter is handed to a running job so it can report progress for its own
// task without holding the registry. Terminal transitions are the worker's
// responsibility; handlers only report intermediate state.
type Reporter struct {
	reg    *Registry
	taskID string
	last   float64
}

// NewReporter binds a reporter to one task.
func NewReporter(reg *Registry, taskID string) *Reporter {
	return &Reporter{reg: reg, taskID: taskID}
}

// TaskID returns the task this reporter feeds.
func (p *Reporter) TaskID() string {
	return p.taskID
}

// Update applies a status/progress change with an optional details patch.
func (p *Reporter) Update(status string, progress float64, patch map[string]string) {
	p.last = progress
	p.reg.Update(p.taskID, status, progress, patch)
}

// Progress applies a status/progress change with no details.
func (p *Reporter) Progress(status string, progress float64) {
	p.Update(status, progress, nil)
}

// Last returns the most recent progress value this reporter sent.
func (p *Reporter) Last() float64 {
	return p.last
}
