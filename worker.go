package lanlink

import (
	"sync"
	"sync/atomic"
)

// worker runs one background loop that polls a shutdown flag between
// iterations. stop is the only way to end it: it raises the flag and then
// waits for the loop to return, at most once.
type worker struct {
	shutdown atomic.Bool
	done     chan struct{}
	once     sync.Once
}

func spawn(loop func(stopped func() bool)) *worker {
	w := &worker{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		loop(w.shutdown.Load)
	}()
	return w
}

func (w *worker) stop() {
	w.once.Do(func() {
		w.shutdown.Store(true)
		<-w.done
	})
}
