package script

import (
	"context"
	"time"

	"github.com/roach88/scriptengine/internal/event"
)

type execKey struct{}

// Exec is the environment of one event handler invocation.
type Exec struct {
	Host   Host
	Event  string
	Detect []event.DetectParam

	// Stop is closed when a cooperative stop is requested. Nil means
	// cooperative termination is not in use.
	Stop <-chan struct{}
}

// WithExec attaches an execution environment to ctx.
func WithExec(ctx context.Context, exec Exec) context.Context {
	return context.WithValue(ctx, execKey{}, exec)
}

// ExecFrom returns the execution environment attached to ctx.
func ExecFrom(ctx context.Context) (Exec, bool) {
	exec, ok := ctx.Value(execKey{}).(Exec)
	return exec, ok
}

// HostFrom returns the host attached to ctx, or nil.
func HostFrom(ctx context.Context) Host {
	exec, _ := ExecFrom(ctx)
	return exec.Host
}

// Detected returns the detection parameters of the running event.
func Detected(ctx context.Context) []event.DetectParam {
	exec, _ := ExecFrom(ctx)
	return exec.Detect
}

// CheckStop is a cooperative check-point. It returns ErrCoopStop once a
// stop was requested and the context error once ctx is done.
func CheckStop(ctx context.Context) error {
	exec, _ := ExecFrom(ctx)
	if exec.Stop != nil {
		select {
		case <-exec.Stop:
			return ErrCoopStop
		default:
		}
	}
	return ctx.Err()
}

// Sleep pauses the handler for d. It is a check-point: it returns early
// with ErrCoopStop or the context error.
func Sleep(ctx context.Context, d time.Duration) error {
	exec, _ := ExecFrom(ctx)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-exec.Stop:
		return ErrCoopStop
	case <-ctx.Done():
		return ctx.Err()
	}
}
