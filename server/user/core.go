package user

import (
	"sync"

	"github.com/experiment-hub/experiment-hub/server/atomic"
	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/emitter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/juju/errors"
)

// CoreParams configure the shared session core embedded by the
// Experimenter and Participant variants.
type CoreParams struct {
	Log logger.Logger
	ID  identifiers.UserID

	// Clock defaults to the real clock.
	Clock clock.Clock

	Experimenter bool

	// Summary supplies the sanitized identity payload. Defaults to the
	// raw id.
	Summary func() interface{}

	// OnStateChange is the variant's connection state hook. It runs
	// before the internal disconnect trigger.
	OnStateChange func(connection.State)
}

// Core carries the behavior shared by all user variants. Variants embed
// a *Core and customize it through CoreParams hooks.
type Core struct {
	log    logger.Logger
	id     identifiers.UserID
	clock  clock.Clock
	params CoreParams

	events *emitter.Emitter

	handlersMu sync.Mutex
	handlers   map[message.Type][]MessageHandler

	// connMu guards the connection reference, the deferred action queue
	// and the mute flags.
	connMu    sync.Mutex
	conn      connection.Connection
	pending   []func()
	muteVideo bool
	muteAudio bool

	// subMu guards the subscriber map and the proposal-creation sequence,
	// so two near-simultaneous subscribe attempts cannot race on the
	// duplicate check.
	subMu       sync.Mutex
	subscribers map[identifiers.UserID]identifiers.SubConnID

	disconnected atomic.Bool

	ping pingState
}

var _ User = &Core{}

func NewCore(params CoreParams) *Core {
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	c := &Core{
		log: params.Log.WithNamespaceAppended("user").WithCtx(logger.Ctx{
			"user_id": params.ID,
		}),
		id:          params.ID,
		clock:       params.Clock,
		params:      params,
		events:      emitter.New(),
		handlers:    map[message.Type][]MessageHandler{},
		subscribers: map[identifiers.UserID]identifiers.SubConnID{},
	}

	c.OnMessage(message.TypePing, c.handlePing)
	c.OnMessage(message.TypePong, c.handlePong)

	return c
}

func (c *Core) ID() identifiers.UserID {
	return c.id
}

func (c *Core) Experimenter() bool {
	return c.params.Experimenter
}

func (c *Core) Summary() interface{} {
	if c.params.Summary != nil {
		return c.params.Summary()
	}

	return string(c.id)
}

func (c *Core) Events() *emitter.Emitter {
	return c.events
}

func (c *Core) Bound() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	return c.conn != nil
}

func (c *Core) connection() connection.Connection {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	return c.conn
}

// whenBound runs action now if a connection is attached, and otherwise
// queues it for the flush on SetConnection. Queued actions run in
// registration order, exactly once.
func (c *Core) whenBound(action func()) {
	c.connMu.Lock()

	if c.conn == nil {
		c.pending = append(c.pending, action)
		c.connMu.Unlock()

		return
	}

	c.connMu.Unlock()

	action()
}

func (c *Core) SetConnection(conn connection.Connection) error {
	c.connMu.Lock()

	if c.conn != nil {
		c.connMu.Unlock()

		return errors.New("connection already set")
	}

	c.conn = conn
	pending := c.pending
	c.pending = nil

	c.connMu.Unlock()

	conn.OnStateChange(func(state connection.State) {
		if c.params.OnStateChange != nil {
			c.params.OnStateChange(state)
		}
	})

	conn.OnStateChange(func(state connection.State) {
		if state == connection.StateClosed || state == connection.StateFailed {
			c.Disconnect()
		}
	})

	for _, action := range pending {
		action()
	}

	return nil
}

func (c *Core) Send(msg message.Message) {
	conn := c.connection()

	if conn == nil || conn.State() != connection.StateConnected {
		// Expected during setup and teardown races, not an error.
		c.log.Debug("Drop message to non-connected peer", logger.Ctx{
			"message_type": msg.Type,
		})

		return
	}

	if err := conn.Send(msg); err != nil {
		c.log.Debug("Send message failed", logger.Ctx{
			"message_type": msg.Type,
			"err":          err,
		})
	}
}

func (c *Core) OnMessage(endpoint message.Type, handler MessageHandler) {
	c.handlersMu.Lock()
	c.handlers[endpoint] = append(c.handlers[endpoint], handler)
	c.handlersMu.Unlock()
}

// HandleMessage dispatches one inbound message. CONNECTION_OFFER and
// ADD_ICE_CANDIDATE are intercepted before regular dispatch: validated,
// then re-emitted as internal events consumed by subscription
// bookkeeping. A handler fault never crashes the session.
func (c *Core) HandleMessage(msg message.Message) {
	switch msg.Type {
	case message.TypeConnectionOffer:
		offer, ok := message.UnmarshalConnectionOffer(msg.Data)
		if !ok {
			c.Send(message.NewError(message.NewDomainError(
				400, message.ErrTypeInvalidDatatype,
				"Message data has invalid format.",
			)))

			return
		}

		c.events.Emit(EventConnectionOffer, offer)

		return
	case message.TypeAddIceCandidate:
		candidate, ok := message.UnmarshalAddIceCandidate(msg.Data)
		if !ok {
			c.Send(message.NewError(message.NewDomainError(
				400, message.ErrTypeInvalidDatatype,
				"Message data has invalid format.",
			)))

			return
		}

		c.events.Emit(EventAddIceCandidate, candidate)

		return
	}

	c.handlersMu.Lock()
	handlers := make([]MessageHandler, len(c.handlers[msg.Type]))
	copy(handlers, c.handlers[msg.Type])
	c.handlersMu.Unlock()

	if len(handlers) == 0 {
		c.log.Debug("No handler for endpoint", logger.Ctx{
			"message_type": msg.Type,
		})

		return
	}

	for _, handler := range handlers {
		reply, err := handler(msg)

		if err != nil {
			if domainErr, ok := message.AsDomainError(err); ok {
				c.Send(domainErr.Message())
			} else {
				c.log.Error("Message handler failed", errors.Trace(err), logger.Ctx{
					"message_type": msg.Type,
				})
				c.Send(message.NewError(message.NewDomainError(
					500, message.ErrTypeInternalServerError,
					"Internal server error. See server log for details.",
				)))
			}

			continue
		}

		if reply != nil {
			c.Send(*reply)
		}
	}
}

func (c *Core) SetMuted(video, audio bool) {
	c.connMu.Lock()
	c.muteVideo = video
	c.muteAudio = audio
	c.connMu.Unlock()

	c.whenBound(func() {
		c.connection().SetMuted(video, audio)
	})
}

func (c *Core) Muted() (video, audio bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	return c.muteVideo, c.muteAudio
}

func (c *Core) SetVideoFilters(configs []message.FilterConfig) error {
	conn := c.connection()
	if conn == nil {
		c.whenBound(func() {
			if err := c.connection().SetVideoFilters(configs); err != nil {
				c.log.Error("Set deferred video filters", errors.Trace(err), nil)
			}
		})

		return nil
	}

	return errors.Trace(conn.SetVideoFilters(configs))
}

func (c *Core) SetAudioFilters(configs []message.FilterConfig) error {
	conn := c.connection()
	if conn == nil {
		c.whenBound(func() {
			if err := c.connection().SetAudioFilters(configs); err != nil {
				c.log.Error("Set deferred audio filters", errors.Trace(err), nil)
			}
		})

		return nil
	}

	return errors.Trace(conn.SetAudioFilters(configs))
}

func (c *Core) SetVideoGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error {
	conn := c.connection()
	if conn == nil {
		return errors.New("connection not set")
	}

	return errors.Trace(conn.SetVideoGroupFilters(configs, ports))
}

func (c *Core) SetAudioGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error {
	conn := c.connection()
	if conn == nil {
		return errors.New("connection not set")
	}

	return errors.Trace(conn.SetAudioGroupFilters(configs, ports))
}

func (c *Core) VideoFiltersData(filterID, filterName string) ([]message.FilterData, error) {
	conn := c.connection()
	if conn == nil {
		return nil, errors.New("connection not set")
	}

	data, err := conn.GetVideoFiltersData(filterID, filterName)

	return data, errors.Trace(err)
}

func (c *Core) AudioFiltersData(filterID, filterName string) ([]message.FilterData, error) {
	conn := c.connection()
	if conn == nil {
		return nil, errors.New("connection not set")
	}

	data, err := conn.GetAudioFiltersData(filterID, filterName)

	return data, errors.Trace(err)
}

func (c *Core) StartRecording() error {
	conn := c.connection()
	if conn == nil {
		return errors.New("connection not set")
	}

	return errors.Trace(conn.StartRecording())
}

func (c *Core) StopRecording() error {
	conn := c.connection()
	if conn == nil {
		return errors.New("connection not set")
	}

	return errors.Trace(conn.StopRecording())
}

// Disconnect fires the disconnected event and clears all listeners
// exactly once, regardless of how many paths trigger it.
func (c *Core) Disconnect() {
	if !c.disconnected.CompareAndSwap(true) {
		return
	}

	c.log.Info("User disconnected", nil)

	c.events.Emit(EventDisconnected, nil)
	c.events.RemoveAll()

	c.StopPinging()

	if conn := c.connection(); conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Error("Close connection", errors.Trace(err), nil)
		}
	}
}

func (c *Core) Disconnected() bool {
	return c.disconnected.Get()
}
