package triage

import "context"

// Agent is one pipeline step. Run must treat the context as read-only and
// return its results in the detail; the engine folds them back in. Critical
// agents short-circuit the pipeline on failure.
type Agent interface {
	Name() StepName
	Critical() bool
	Run(ctx context.Context, rc *RunContext) (StepDetail, error)
}
