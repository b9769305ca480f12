package level

import (
	"sync"
	"time"
)

// Poll runs fn every interval on its own goroutine until the returned stop
// function is called. Stop is idempotent and returns once fn is no longer
// running.
func Poll(interval time.Duration, fn func(time.Time)) (stop func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}
