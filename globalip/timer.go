package globalip

import "time"

// realTimerMaker constructs Timers backed by time.Ticker, for production
// use outside of tests.
type realTimerMaker struct{}

// NewRealTimerMaker returns a TimerMaker backed by the standard library's
// time.Ticker.
func NewRealTimerMaker() TimerMaker { return realTimerMaker{} }

func (realTimerMaker) Create() Timer { return &realTimer{} }

type realTimer struct {
	ticker *time.Ticker
	stopCh chan struct{}
	cb     func()
}

func (t *realTimer) SetCallback(f func()) { t.cb = f }

func (t *realTimer) SetInterval(d time.Duration) {
	t.Stop()

	t.ticker = time.NewTicker(d)
	t.stopCh = make(chan struct{})
	cb := t.cb
	stopCh := t.stopCh
	ticker := t.ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				if cb != nil {
					cb()
				}
			case <-stopCh:
				return
			}
		}
	}()
}

func (t *realTimer) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopCh)
		t.ticker = nil
		t.stopCh = nil
	}
}
