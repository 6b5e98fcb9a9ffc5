// Package app defines common runtime contracts shared by the long-running
// services the CLI starts (local chains, relayer).
//
// It lets cmd/cubist and the daemon manager start a service without
// depending on its concrete implementation.
package app

import "context"

// Runner represents a runnable application component.
//
// Run blocks until ctx is done or the component fails. ready is called once
// the component accepts traffic; it may be nil.
type Runner interface {
	Run(ctx context.Context, ready func()) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ready func()) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, ready func()) error { return f(ctx, ready) }

// NotifyReady calls ready if it is set.
func NotifyReady(ready func()) {
	if ready != nil {
		ready()
	}
}
