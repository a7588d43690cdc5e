//go:build linux

package tracer

// StopReason explains why a Run loop ended, mirroring the halt-reason
// switch cmd/tests/main.go prints after the CPU stops.
type StopReason int

const (
	StopManual StopReason = iota
	StopAddress
	StopLoop
	StopExited
	StopError
)

func (r StopReason) String() string {
	switch r {
	case StopManual:
		return "manually stopped"
	case StopAddress:
		return "hit stop address"
	case StopLoop:
		return "settled into an idle loop"
	case StopExited:
		return "target exited"
	case StopError:
		return "stepping error"
	}
	return "unknown"
}

// Options configures a Run loop.
type Options struct {
	// StopAt halts tracing once this address is reached, if nonzero.
	StopAt uint64
	// DetectLoops enables the idle-loop detector.
	DetectLoops bool
}

// Run drives t one instruction at a time, invoking observe for each step,
// until the target exits, the stop address is hit, a loop is detected (if
// enabled), or observe returns an error.
func Run(t *Tracer, opts Options, observe func(Step) error) (StopReason, error) {
	var detector loopDetector

	for {
		step, ok, err := t.Step()
		if err != nil {
			return StopError, err
		}
		if !ok {
			return StopExited, nil
		}

		if err := observe(step); err != nil {
			return StopError, err
		}

		if opts.StopAt != 0 && step.Address == opts.StopAt {
			return StopAddress, nil
		}

		if opts.DetectLoops {
			detector.push(step.Address)
			if detector.looping() {
				return StopLoop, nil
			}
		}
	}
}
