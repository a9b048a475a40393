package user

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/experiment-hub/experiment-hub/server/message"
)

type pingState struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Bounded ring of round-trip samples. Size is window/period, at
	// least 1.
	samples []int64
	next    int
	count   int
}

// StartPinging begins sending PING messages every period, keeping
// round-trip samples covering the given window. Calling it while the
// loop runs is a no-op.
func (c *Core) StartPinging(period, window time.Duration) {
	if period <= 0 {
		period = time.Second
	}

	c.ping.mu.Lock()

	if c.ping.cancel != nil {
		c.ping.mu.Unlock()

		c.log.Debug("Ping loop already running", nil)

		return
	}

	size := int(window / period)
	if size < 1 {
		size = 1
	}

	c.ping.samples = make([]int64, size)
	c.ping.next = 0
	c.ping.count = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.ping.cancel = cancel
	c.ping.done = done

	c.ping.mu.Unlock()

	go c.pingLoop(ctx, done, period)
}

func (c *Core) pingLoop(ctx context.Context, done chan struct{}, period time.Duration) {
	defer close(done)

	ticker := c.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.Send(message.New(message.TypePing, message.Ping{
				Sent: c.clock.Now().UnixMilli(),
			}))
		}
	}
}

// StopPinging cancels the ping loop and waits for it to exit. Stopping a
// loop that is not running is logged, not raised.
func (c *Core) StopPinging() {
	c.ping.mu.Lock()

	cancel := c.ping.cancel
	done := c.ping.done
	c.ping.cancel = nil
	c.ping.done = nil

	c.ping.mu.Unlock()

	if cancel == nil {
		c.log.Debug("Ping loop not running", nil)

		return
	}

	cancel()
	<-done
}

// handlePing answers an inbound PING with a PONG echoing its payload.
func (c *Core) handlePing(msg message.Message) (*message.Message, error) {
	var ping message.Ping

	if err := json.Unmarshal(msg.Data, &ping); err != nil {
		return nil, message.NewDomainError(
			400, message.ErrTypeInvalidDatatype,
			"Message data has invalid format.",
		)
	}

	reply := message.New(message.TypePong, message.Pong{
		HandledTime: c.clock.Now().UnixMilli(),
		PingData:    ping,
	})

	return &reply, nil
}

// handlePong records the round trip of one of our own pings.
func (c *Core) handlePong(msg message.Message) (*message.Message, error) {
	var pong message.Pong

	if err := json.Unmarshal(msg.Data, &pong); err != nil {
		return nil, message.NewDomainError(
			400, message.ErrTypeInvalidDatatype,
			"Message data has invalid format.",
		)
	}

	rtt := c.clock.Now().UnixMilli() - pong.PingData.Sent

	c.ping.mu.Lock()

	if len(c.ping.samples) > 0 {
		c.ping.samples[c.ping.next] = rtt
		c.ping.next = (c.ping.next + 1) % len(c.ping.samples)

		if c.ping.count < len(c.ping.samples) {
			c.ping.count++
		}
	}

	c.ping.mu.Unlock()

	return nil, nil
}

// GetCurrentPing returns the mean round-trip time in milliseconds, or 0
// when no samples have been collected.
func (c *Core) GetCurrentPing() int64 {
	c.ping.mu.Lock()
	defer c.ping.mu.Unlock()

	if c.ping.count == 0 {
		return 0
	}

	var sum int64

	for i := 0; i < c.ping.count; i++ {
		sum += c.ping.samples[i]
	}

	return sum / int64(c.ping.count)
}
