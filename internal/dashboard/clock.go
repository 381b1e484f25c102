package dashboard

import (
	"sync"
	"time"
)

// Timer is a handle on a repeating timer.
type Timer interface {
	Stop()
}

// Clock creates repeating timers.
type Clock interface {
	// Every calls fn every d until the returned Timer is stopped.
	Every(d time.Duration, fn func()) Timer
}

// SystemClock returns a Clock backed by time.Ticker.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(d),
		stopCh: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				fn()
			case <-t.stopCh:
				return
			}
		}
	}()
	return t
}

type tickerTimer struct {
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Stop is safe to call more than once.
func (t *tickerTimer) Stop() {
	t.stopOnce.Do(func() {
		t.ticker.Stop()
		close(t.stopCh)
	})
}
