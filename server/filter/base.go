package filter

import (
	"sync"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// base carries the identity and configuration shared by shipped filters.
type base struct {
	id      identifiers.FilterID
	name    string
	channel string

	mu     sync.Mutex
	config message.FilterConfig
}

func newBase(id identifiers.FilterID, name, channel string, config message.FilterConfig) base {
	return base{
		id:      id,
		name:    name,
		channel: channel,
		config:  config,
	}
}

func (b *base) ID() identifiers.FilterID {
	return b.id
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Config() message.FilterConfig {
	b.mu.Lock()
	defer b.mu.Unlock()

	config := b.config
	config.ID = b.id
	config.Name = b.name
	config.Type = b.name
	config.Channel = b.channel

	return config
}

func (b *base) SetConfig(config message.FilterConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.config = config
}

// option returns the current value for an option name, falling back to
// the default value when unset.
func (b *base) option(name string) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	opt, ok := b.config.Config[name]
	if !ok {
		return nil
	}

	if opt.Value != nil {
		return opt.Value
	}

	return opt.DefaultValue
}

// optionFloat returns an option value as float64. JSON numbers decode as
// float64; anything else yields the fallback.
func (b *base) optionFloat(name string, fallback float64) float64 {
	if value, ok := b.option(name).(float64); ok {
		return value
	}

	return fallback
}
