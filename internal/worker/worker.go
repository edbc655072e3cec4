// Package worker provides the small halt-channel embeddable the engine
// uses to stop its background goroutines: a Worker/HaltCh/Halt idiom
// shared by every actor-style goroutine in this module.
package worker

import "sync"

// Worker is embeddable in any actor that runs goroutines needing a clean,
// idempotent shutdown signal.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that closes when Halt is called.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltCh
}

// Halt closes the halt channel. Safe to call more than once.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() { close(w.haltCh) })
}
