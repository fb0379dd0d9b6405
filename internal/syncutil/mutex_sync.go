//go:build !deadlock

// Package syncutil holds the mutex used to serialize panel access. Build with
// -tags deadlock to swap in a lock-order and deadlock detector.
package syncutil

import "sync"

const DeadlockEnabled = false

type Mutex struct {
	sync.Mutex
}
