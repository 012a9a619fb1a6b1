package agent

import "context"

// Agent is what the serve and scheduling layers see of a running loop.
// *Loop is the only production implementation; tests substitute fakes.
type Agent interface {
	ID() string
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	IsRunning() bool
	Model() string
}
