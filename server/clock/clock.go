package clock

import "time"

// Clock abstracts time for components that need to be tested with a
// deterministic scheduler, such as the ping loop.
type Clock interface {
	NewTicker(time.Duration) Ticker
	Now() time.Time
}

func New() Clock {
	return clock{}
}

type clock struct{}

func (c clock) NewTicker(d time.Duration) Ticker {
	return &ticker{
		ticker: time.NewTicker(d),
	}
}

func (c clock) Now() time.Time {
	return time.Now()
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type ticker struct {
	ticker *time.Ticker
}

var _ Ticker = &ticker{}

func (t *ticker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *ticker) Stop() {
	t.ticker.Stop()
}
