// Package run drives the external simulation executable: one child process at
// a time, its output forwarded to a sink, its exit reported to the caller.
package run

// State is the run controller lifecycle position.
type State int

// Controller states. Finished, Failed and Cancelled are reported to observers
// and recorded on the ExitStatus; the controller then returns to Idle.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateFinished
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether a child process is attached or being attached.
func (s State) Active() bool { return s == StateStarting || s == StateRunning }

// Stream names the child output stream a chunk came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Sink receives child output. Calls are serialized by the controller, and
// chunks from one stream arrive in order.
type Sink interface {
	Output(stream Stream, data []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(stream Stream, data []byte)

// Output implements Sink.
func (f SinkFunc) Output(stream Stream, data []byte) { f(stream, data) }

type discardSink struct{}

func (discardSink) Output(Stream, []byte) {}

// ExitStatus describes how the last run ended.
type ExitStatus struct {
	State  State  // Finished, Failed or Cancelled
	Code   int    // process exit code, -1 when killed by a signal or never started
	Signal string // terminating signal, if any
	Err    error  // spawn or wait failure for Failed runs
}

// Success reports a clean zero exit.
func (e ExitStatus) Success() bool { return e.State == StateFinished && e.Code == 0 }
