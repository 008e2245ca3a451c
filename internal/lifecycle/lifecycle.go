package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is
// received; the health handler reports shutting-down (503) while true so
// load balancers stop routing to the instance.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true while the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
