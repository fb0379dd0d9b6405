//go:build deadlock

// Package syncutil holds the mutex used to serialize panel access. Build with
// -tags deadlock to swap in a lock-order and deadlock detector.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

const DeadlockEnabled = true

func init() {
	// A full refresh holds the panel lock for up to three busy timeouts.
	deadlock.Opts.DeadlockTimeout = 5 * time.Minute
}

type Mutex struct {
	deadlock.Mutex
}
