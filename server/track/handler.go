// Package track implements the per-track media pipeline: a single
// source fanned out to many subscribers, with a hot-swappable filter
// chain and a mute override applied on every read.
package track

import (
	"context"
	"fmt"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/uuid"
	"github.com/juju/errors"
)

// PortPair is the aggregator port allocation for one group filter.
type PortPair struct {
	Data   int
	Result int
}

// Params configure a Handler.
type Params struct {
	Log      logger.Logger
	Kind     media.Kind
	Registry *filter.Registry

	// Source is the initial source track. When nil, a blank placeholder
	// source is used until SetSource is called.
	Source media.Source

	Muted bool
}

// Handler owns one media track: it reads frames from the current source,
// passes them through the configured filter chain, applies the mute
// override last, and relays the result to subscribers.
type Handler struct {
	log      logger.Logger
	kind     media.Kind
	registry *filter.Registry

	mu     sync.Mutex
	source media.Source
	// sourceGen invalidates the ended-watcher of a replaced source.
	sourceGen int64

	filters      map[identifiers.FilterID]filter.Filter
	filterOrder  []identifiers.FilterID
	groupFilters map[identifiers.FilterID]filter.GroupFilter
	groupOrder   []identifiers.FilterID

	muted      bool
	muteFilter *filter.MuteFilter

	relay *relay

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Handler. The kind must be audio or video.
func New(params Params) (*Handler, error) {
	if !params.Kind.Valid() {
		return nil, errors.Errorf("invalid track kind: %q", params.Kind)
	}

	source := params.Source
	if source == nil {
		source = media.NewBlank(params.Kind)
	} else if source.Kind() != params.Kind {
		return nil, errors.Errorf("source track must be of kind: %s", params.Kind)
	}

	h := &Handler{
		log:          params.Log.WithNamespaceAppended("track").WithCtx(logger.Ctx{"kind": params.Kind}),
		kind:         params.Kind,
		registry:     params.Registry,
		source:       source,
		filters:      map[identifiers.FilterID]filter.Filter{},
		groupFilters: map[identifiers.FilterID]filter.GroupFilter{},
		muted:        params.Muted,
		muteFilter:   filter.NewMuteFilter(params.Kind),
		done:         make(chan struct{}),
	}

	h.relay = newRelay(h)

	go h.watchEnded(source, 0)

	return h, nil
}

func (h *Handler) Kind() media.Kind {
	return h.kind
}

func (h *Handler) Muted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.muted
}

func (h *Handler) SetMuted(muted bool) {
	h.mu.Lock()
	h.muted = muted
	h.mu.Unlock()
}

// Done is closed once the handler has stopped.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// watchEnded stops the handler when the current source ends. A source
// swap invalidates the watcher of the replaced source via generation
// counting, so an old track ending cannot tear down the new one.
func (h *Handler) watchEnded(source media.Source, gen int64) {
	select {
	case <-source.Done():
	case <-h.done:
		return
	}

	h.mu.Lock()
	current := h.sourceGen == gen
	h.mu.Unlock()

	if current {
		h.Stop()
	}
}

// SetSource replaces the source track. The swap is atomic with respect
// to concurrent Recv calls and ended-watchers.
func (h *Handler) SetSource(source media.Source) error {
	if source.Kind() != h.kind {
		return errors.Errorf("source track must be of kind: %s", h.kind)
	}

	h.mu.Lock()

	previous := h.source
	h.source = source
	h.sourceGen++
	gen := h.sourceGen

	h.mu.Unlock()

	go h.watchEnded(source, gen)

	previous.Stop()

	return nil
}

// Subscribe returns an independent consumer of this handler's output.
// Each call creates a new proxy; none of the proxies blocks another.
// Reading the handler directly while proxies exist divides the frame
// rate between consumers, so all consumers must go through Subscribe.
func (h *Handler) Subscribe() *Proxy {
	return h.relay.subscribe()
}

// SetFilters replaces the user-configured filter chain. Validation is
// all-or-nothing: any unknown non-empty id or unknown type fails the
// whole call without touching the table. Configs with empty ids create
// new instances with fresh ids; configs referencing existing ids update
// those instances in place; instances omitted from the new list are
// discarded and cleaned up.
func (h *Handler) SetFilters(configs []message.FilterConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id, dup := message.DuplicateFilterIDs(configs); dup {
		return errors.Trace(message.NewDomainError(
			400, message.ErrTypeDuplicateID,
			fmt.Sprintf("Duplicate filter ID: %q.", id),
		))
	}

	for _, config := range configs {
		if config.ID != "" {
			if _, ok := h.filters[config.ID]; !ok {
				return errors.Trace(message.NewDomainError(
					404, message.ErrTypeUnknownFilterID,
					fmt.Sprintf("Unknown filter ID: %q.", config.ID),
				))
			}

			continue
		}

		if _, ok := h.registry.Get(config.Type); !ok {
			return errors.Trace(message.NewDomainError(
				404, message.ErrTypeUnknownFilterType,
				fmt.Sprintf("Unknown filter type: %q.", config.Type),
			))
		}
	}

	newFilters := make(map[identifiers.FilterID]filter.Filter, len(configs))
	newOrder := make([]identifiers.FilterID, 0, len(configs))

	for _, config := range configs {
		if config.ID != "" {
			existing := h.filters[config.ID]
			existing.SetConfig(config)

			newFilters[config.ID] = existing
			newOrder = append(newOrder, config.ID)

			continue
		}

		desc, _ := h.registry.Get(config.Type)

		id := identifiers.FilterID(uuid.New())

		instance, err := desc.New(id, config)
		if err != nil {
			return errors.Annotatef(err, "create filter: %s", config.Type)
		}

		newFilters[id] = instance
		newOrder = append(newOrder, id)
	}

	for id, old := range h.filters {
		if _, ok := newFilters[id]; !ok {
			if err := filter.Cleanup(old); err != nil {
				h.log.Error("Cleanup filter", errors.Trace(err), logger.Ctx{
					"filter_id": id,
				})
			}
		}
	}

	h.filters = newFilters
	h.filterOrder = newOrder

	return nil
}

// SetGroupFilters replaces the group filter set. Ports are allocated by
// the caller, one pair per config, and handed to newly created
// instances.
func (h *Handler) SetGroupFilters(configs []message.FilterConfig, ports []PortPair) error {
	if len(ports) < len(configs) {
		return errors.Errorf("got %d port pairs for %d group filters", len(ports), len(configs))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, config := range configs {
		if config.ID != "" {
			if _, ok := h.groupFilters[config.ID]; !ok {
				return errors.Trace(message.NewDomainError(
					404, message.ErrTypeUnknownFilterID,
					fmt.Sprintf("Unknown group filter ID: %q.", config.ID),
				))
			}

			continue
		}

		desc, ok := h.registry.Get(config.Type)
		if !ok || !desc.GroupFilter {
			return errors.Trace(message.NewDomainError(
				404, message.ErrTypeUnknownFilterType,
				fmt.Sprintf("Unknown group filter type: %q.", config.Type),
			))
		}
	}

	newFilters := make(map[identifiers.FilterID]filter.GroupFilter, len(configs))
	newOrder := make([]identifiers.FilterID, 0, len(configs))

	for i, config := range configs {
		if config.ID != "" {
			existing := h.groupFilters[config.ID]
			existing.SetConfig(config)

			newFilters[config.ID] = existing
			newOrder = append(newOrder, config.ID)

			continue
		}

		desc, _ := h.registry.Get(config.Type)

		id := identifiers.FilterID(uuid.New())

		instance, err := desc.New(id, config)
		if err != nil {
			return errors.Annotatef(err, "create group filter: %s", config.Type)
		}

		groupInstance, ok := instance.(filter.GroupFilter)
		if !ok {
			return errors.Errorf("filter type %q does not implement GroupFilter", config.Type)
		}

		if err := groupInstance.ConnectAggregator(ports[i].Data, ports[i].Result); err != nil {
			return errors.Annotatef(err, "connect aggregator: %s", config.Type)
		}

		newFilters[id] = groupInstance
		newOrder = append(newOrder, id)
	}

	for id, old := range h.groupFilters {
		if _, ok := newFilters[id]; !ok {
			if err := filter.Cleanup(old); err != nil {
				h.log.Error("Cleanup group filter", errors.Trace(err), logger.Ctx{
					"filter_id": id,
				})
			}
		}
	}

	h.groupFilters = newFilters
	h.groupOrder = newOrder

	return nil
}

// Filters returns the current user-configured chain in apply order.
func (h *Handler) Filters() []message.FilterConfig {
	h.mu.Lock()
	defer h.mu.Unlock()

	ret := make([]message.FilterConfig, 0, len(h.filterOrder))
	for _, id := range h.filterOrder {
		ret = append(ret, h.filters[id].Config())
	}

	return ret
}

// GroupFilters returns the current group filter set in apply order.
func (h *Handler) GroupFilters() []message.FilterConfig {
	h.mu.Lock()
	defer h.mu.Unlock()

	ret := make([]message.FilterConfig, 0, len(h.groupOrder))
	for _, id := range h.groupOrder {
		ret = append(ret, h.groupFilters[id].Config())
	}

	return ret
}

// FiltersData collects telemetry from filter instances with the given
// name. An id of "all" collects from every instance with that name; a
// concrete id collects from that single instance.
func (h *Handler) FiltersData(id, name string) ([]message.FilterData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ret []message.FilterData

	for _, filterID := range h.filterOrder {
		instance := h.filters[filterID]
		if instance.Name() != name {
			continue
		}

		provider, ok := instance.(filter.DataProvider)
		if !ok {
			continue
		}

		switch {
		case id == "all":
			data, err := provider.FilterData()
			if err != nil {
				return nil, errors.Trace(err)
			}

			ret = append(ret, data)
		case identifiers.FilterID(id) == filterID:
			data, err := provider.FilterData()
			if err != nil {
				return nil, errors.Trace(err)
			}

			return []message.FilterData{data}, nil
		default:
			return nil, errors.Trace(message.NewDomainError(
				404, message.ErrTypeUnknownFilterID,
				fmt.Sprintf("Unknown filter ID: %q.", id),
			))
		}
	}

	return ret, nil
}

// Recv reads the next frame from the source and runs the pipeline:
// group filters, then user filters in config order, then the mute
// override. The mute filter is always layered last and is never part of
// the user-facing filter list.
//
// A source swap stops the replaced source while a reader may be blocked
// inside its Recv. The resulting ErrEnded from a stale source is not the
// end of the stream: Recv retries with the replacement, so subscribers
// ride out swaps without noticing.
func (h *Handler) Recv(ctx context.Context) (media.Frame, error) {
	for {
		select {
		case <-h.done:
			return media.Frame{}, errors.Trace(media.ErrEnded)
		default:
		}

		h.mu.Lock()
		source := h.source
		gen := h.sourceGen
		h.mu.Unlock()

		frame, err := source.Recv(ctx)
		if err != nil {
			if errors.Cause(err) == media.ErrEnded {
				h.mu.Lock()
				swapped := h.sourceGen != gen
				h.mu.Unlock()

				if swapped {
					continue
				}
			}

			return media.Frame{}, errors.Trace(err)
		}

		return h.process(ctx, frame)
	}
}

func (h *Handler) process(ctx context.Context, frame media.Frame) (media.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error

	for _, id := range h.groupOrder {
		frame, err = h.groupFilters[id].Process(ctx, frame)
		if err != nil {
			return media.Frame{}, errors.Annotatef(err, "group filter: %s", id)
		}
	}

	for _, id := range h.filterOrder {
		frame, err = h.filters[id].Process(ctx, frame)
		if err != nil {
			return media.Frame{}, errors.Annotatef(err, "filter: %s", id)
		}
	}

	if h.muted {
		frame, err = h.muteFilter.Process(ctx, frame)
		if err != nil {
			return media.Frame{}, errors.Annotate(err, "mute filter")
		}
	}

	return frame, nil
}

// Stop ends the handler: the relay shuts down, subscribers see the
// stream end, and all filters are cleaned up. Safe to call more than
// once.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()

		source := h.source

		instances := make([]filter.Filter, 0, len(h.filters)+len(h.groupFilters))
		for _, f := range h.filters {
			instances = append(instances, f)
		}

		for _, f := range h.groupFilters {
			instances = append(instances, f)
		}

		h.mu.Unlock()

		source.Stop()

		for _, f := range instances {
			if err := filter.Cleanup(f); err != nil {
				h.log.Error("Cleanup filter", errors.Trace(err), logger.Ctx{
					"filter_id": f.ID(),
				})
			}
		}
	})
}
