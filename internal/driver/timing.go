package driver

import "time"

// slowCallThreshold is how long a command dispatch may take before it is
// worth logging. Z-Wave actuation normally completes well under this.
const slowCallThreshold = 100 * time.Millisecond

// timed returns a func for deferral that logs dispatches exceeding the
// slow-call threshold.
func (r *Router) timed(op string) func() {
	start := time.Now()
	return func() {
		if elapsed := time.Since(start); elapsed > slowCallThreshold {
			r.logWarn("slow command dispatch", "command", op, "duration", elapsed.String())
		}
	}
}
