package lanlink

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_StopJoinsLoop(t *testing.T) {
	var iterations, exited atomic.Int32

	w := spawn(func(stopped func() bool) {
		for !stopped() {
			iterations.Add(1)
			time.Sleep(time.Millisecond)
		}
		exited.Store(1)
	})

	require.Eventually(t, func() bool { return iterations.Load() > 0 }, time.Second, time.Millisecond)

	w.stop()
	assert.Equal(t, int32(1), exited.Load())

	after := iterations.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, iterations.Load())
}

func TestWorker_StopTwice(t *testing.T) {
	w := spawn(func(stopped func() bool) {
		for !stopped() {
			time.Sleep(time.Millisecond)
		}
	})

	done := make(chan struct{})
	go func() {
		w.stop()
		w.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}

func TestWorker_LoopThatReturnsEarly(t *testing.T) {
	w := spawn(func(func() bool) {})

	<-w.done
	w.stop()
	assert.True(t, w.shutdown.Load())
}
