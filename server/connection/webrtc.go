package connection

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/multierr"
	"github.com/experiment-hub/experiment-hub/server/pionlogger"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/experiment-hub/experiment-hub/server/uuid"
	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
)

// Factory builds peer connections sharing one webrtc.API instance.
type Factory struct {
	log        logger.Logger
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

type FactoryParams struct {
	Log        logger.Logger
	ICEServers []webrtc.ICEServer
}

func NewFactory(params FactoryParams) *Factory {
	log := params.Log.WithNamespaceAppended("connection_factory")

	settingEngine := webrtc.SettingEngine{}
	settingEngine.LoggerFactory = pionlogger.NewFactory(log)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		log.Error("Register default codecs", errors.Trace(err), nil)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &Factory{
		log:        log,
		api:        api,
		iceServers: params.ICEServers,
	}
}

// Params configure one peer's Conn.
type Params struct {
	Log    logger.Logger
	UserID identifiers.UserID

	Registry *filter.Registry

	// OnMessage receives envelopes arriving over the peer's data channel.
	OnMessage func(message.Message)

	// RecordingSink opens a sink for one recorded track. Required only
	// when StartRecording is used.
	RecordingSink func(kind media.Kind) (io.WriteCloser, error)
}

// Conn is the pion-backed Connection: one main peer connection receiving
// the peer's tracks and carrying its message channel, plus one
// sub-connection per subscriber relaying the filtered tracks out.
type Conn struct {
	log     logger.Logger
	factory *Factory
	params  Params

	pc *webrtc.PeerConnection

	audio *track.Handler
	video *track.Handler

	mu             sync.Mutex
	dc             *webrtc.DataChannel
	subConns       map[identifiers.SubConnID]*subConn
	state          State
	stateListeners []StateListener
	recorder       *Recorder

	closeOnce sync.Once
}

var _ Connection = &Conn{}

func (f *Factory) NewConn(params Params) (*Conn, error) {
	log := params.Log.WithNamespaceAppended("connection").WithCtx(logger.Ctx{
		"user_id": params.UserID,
	})

	audio, err := track.New(track.Params{
		Log:      log,
		Kind:     media.KindAudio,
		Registry: params.Registry,
	})
	if err != nil {
		return nil, errors.Annotate(err, "new audio track handler")
	}

	video, err := track.New(track.Params{
		Log:      log,
		Kind:     media.KindVideo,
		Registry: params.Registry,
	})
	if err != nil {
		audio.Stop()

		return nil, errors.Annotate(err, "new video track handler")
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.iceServers,
	})
	if err != nil {
		audio.Stop()
		video.Stop()

		return nil, errors.Annotate(err, "new peer connection")
	}

	c := &Conn{
		log:      log,
		factory:  f,
		params:   params,
		pc:       pc,
		audio:    audio,
		video:    video,
		subConns: map[identifiers.SubConnID]*subConn{},
		state:    StateNew,
	}

	pc.OnTrack(c.handleTrack)
	pc.OnDataChannel(c.handleDataChannel)
	pc.OnConnectionStateChange(c.handleStateChange)

	return c, nil
}

// HandleOffer answers the peer's initial offer on the main connection.
// The answer carries all gathered candidates, so no trickle is needed on
// this leg.
func (c *Conn) HandleOffer(offer message.SessionDescription) (message.SessionDescription, error) {
	answer, err := answerOffer(c.pc, offer)
	if err != nil {
		return message.SessionDescription{}, errors.Annotate(err, "main connection offer")
	}

	return answer, nil
}

// AddICECandidate adds a candidate trickled by the peer for the main
// connection.
func (c *Conn) AddICECandidate(candidate message.RTCIceCandidate) error {
	err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})

	return errors.Annotate(err, "main connection candidate")
}

func (c *Conn) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	var handler *track.Handler

	switch remote.Kind() {
	case webrtc.RTPCodecTypeAudio:
		handler = c.audio
	case webrtc.RTPCodecTypeVideo:
		handler = c.video
	default:
		c.log.Warn("Ignoring track of unknown kind", logger.Ctx{
			"track_kind": remote.Kind(),
		})

		return
	}

	c.log.Info("Remote track", logger.Ctx{
		"track_kind": remote.Kind(),
		"track_id":   remote.ID(),
	})

	if err := handler.SetSource(newRTPSource(handler.Kind(), remote)); err != nil {
		c.log.Error("Set track source", errors.Trace(err), nil)
	}
}

func (c *Conn) handleDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		var msg message.Message

		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			c.log.Warn("Drop undecodable data channel message", logger.Ctx{
				"err": err,
			})

			return
		}

		if c.params.OnMessage != nil {
			c.params.OnMessage(msg)
		}
	})
}

func (c *Conn) handleStateChange(pionState webrtc.PeerConnectionState) {
	state := StateNew

	switch pionState {
	case webrtc.PeerConnectionStateNew:
		state = StateNew
	case webrtc.PeerConnectionStateConnecting:
		state = StateConnecting
	case webrtc.PeerConnectionStateConnected:
		state = StateConnected
	case webrtc.PeerConnectionStateClosed:
		state = StateClosed
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		// A transient transport drop has no recovery path at this layer,
		// so disconnected collapses into failed.
		state = StateFailed
	}

	c.setState(state)
}

func (c *Conn) setState(state State) {
	c.mu.Lock()

	c.state = state

	listeners := make([]StateListener, len(c.stateListeners))
	copy(listeners, c.stateListeners)

	c.mu.Unlock()

	c.log.Debug("Connection state changed", logger.Ctx{
		"state": state,
	})

	for _, listener := range listeners {
		listener(state)
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Conn) OnStateChange(listener StateListener) {
	c.mu.Lock()
	c.stateListeners = append(c.stateListeners, listener)
	c.mu.Unlock()
}

func (c *Conn) CreateSubscriberProposal(payload interface{}) (message.ConnectionProposal, error) {
	id := identifiers.SubConnID(uuid.New())

	sc, err := newSubConn(subConnParams{
		log:        c.log,
		api:        c.factory.api,
		iceServers: c.factory.iceServers,
		id:         id,
		audio:      c.audio.Subscribe(),
		video:      c.video.Subscribe(),
	})
	if err != nil {
		return message.ConnectionProposal{}, errors.Annotate(err, "new sub-connection")
	}

	c.mu.Lock()
	c.subConns[id] = sc
	c.mu.Unlock()

	return message.ConnectionProposal{
		ID:                 id,
		ParticipantSummary: payload,
	}, nil
}

func (c *Conn) subConn(id identifiers.SubConnID) (*subConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.subConns[id]
	if !ok {
		return nil, errors.Trace(message.NewDomainError(
			404, message.ErrTypeUnknownSubConnID,
			"No sub-connection found for the given id.",
		))
	}

	return sc, nil
}

func (c *Conn) HandleSubscriberOffer(offer message.ConnectionOffer) (message.ConnectionAnswer, error) {
	sc, err := c.subConn(offer.ID)
	if err != nil {
		return message.ConnectionAnswer{}, errors.Trace(err)
	}

	answer, err := sc.handleOffer(offer.Offer)
	if err != nil {
		return message.ConnectionAnswer{}, errors.Annotatef(err, "sub-connection offer: %s", offer.ID)
	}

	return message.ConnectionAnswer{
		ID:     offer.ID,
		Answer: answer,
	}, nil
}

func (c *Conn) HandleSubscriberCandidate(candidate message.AddIceCandidate) error {
	sc, err := c.subConn(candidate.ID)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Annotatef(sc.addCandidate(candidate.Candidate), "sub-connection candidate: %s", candidate.ID)
}

func (c *Conn) StopSubConnection(id identifiers.SubConnID) error {
	c.mu.Lock()

	sc, ok := c.subConns[id]
	if ok {
		delete(c.subConns, id)
	}

	c.mu.Unlock()

	if !ok {
		return errors.Errorf("no sub-connection to stop: %s", id)
	}

	return errors.Trace(sc.stop())
}

func (c *Conn) SetMuted(video, audio bool) {
	c.video.SetMuted(video)
	c.audio.SetMuted(audio)
}

func (c *Conn) SetVideoFilters(configs []message.FilterConfig) error {
	return errors.Trace(c.video.SetFilters(configs))
}

func (c *Conn) SetAudioFilters(configs []message.FilterConfig) error {
	return errors.Trace(c.audio.SetFilters(configs))
}

func (c *Conn) SetVideoGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error {
	return errors.Trace(c.video.SetGroupFilters(configs, ports))
}

func (c *Conn) SetAudioGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error {
	return errors.Trace(c.audio.SetGroupFilters(configs, ports))
}

func (c *Conn) GetVideoFiltersData(filterID, filterName string) ([]message.FilterData, error) {
	data, err := c.video.FiltersData(filterID, filterName)

	return data, errors.Trace(err)
}

func (c *Conn) GetAudioFiltersData(filterID, filterName string) ([]message.FilterData, error) {
	data, err := c.audio.FiltersData(filterID, filterName)

	return data, errors.Trace(err)
}

func (c *Conn) StartRecording() error {
	if c.params.RecordingSink == nil {
		return errors.New("no recording sink configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder != nil {
		return nil
	}

	recorder, err := StartRecorder(RecorderParams{
		Log:      c.log,
		Sink:     c.params.RecordingSink,
		Handlers: []*track.Handler{c.audio, c.video},
	})
	if err != nil {
		return errors.Annotate(err, "start recorder")
	}

	c.recorder = recorder

	return nil
}

func (c *Conn) StopRecording() error {
	c.mu.Lock()
	recorder := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if recorder == nil {
		return nil
	}

	return errors.Trace(recorder.Stop())
}

func (c *Conn) Send(msg message.Message) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return errors.New("no data channel open")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Annotate(err, "marshal message")
	}

	return errors.Annotate(dc.SendText(string(payload)), "send message")
}

func (c *Conn) Close() error {
	var errs multierr.MultiErr

	c.closeOnce.Do(func() {
		c.mu.Lock()

		subConns := make([]*subConn, 0, len(c.subConns))
		for _, sc := range c.subConns {
			subConns = append(subConns, sc)
		}

		c.subConns = map[identifiers.SubConnID]*subConn{}

		recorder := c.recorder
		c.recorder = nil

		c.mu.Unlock()

		for _, sc := range subConns {
			errs.Add(errors.Trace(sc.stop()))
		}

		if recorder != nil {
			errs.Add(errors.Trace(recorder.Stop()))
		}

		c.audio.Stop()
		c.video.Stop()

		errs.Add(errors.Annotate(c.pc.Close(), "close peer connection"))
	})

	return errors.Trace(errs.Err())
}

// answerOffer runs the answering side of one offer/answer exchange and
// blocks until candidate gathering completes.
func answerOffer(pc *webrtc.PeerConnection, offer message.SessionDescription) (message.SessionDescription, error) {
	sdpType := webrtc.NewSDPType(offer.Type)

	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  offer.SDP,
	})
	if err != nil {
		return message.SessionDescription{}, errors.Annotate(err, "set remote description")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return message.SessionDescription{}, errors.Annotate(err, "create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)

	if err := pc.SetLocalDescription(answer); err != nil {
		return message.SessionDescription{}, errors.Annotate(err, "set local description")
	}

	<-gatherComplete

	local := pc.LocalDescription()

	return message.SessionDescription{
		SDP:  local.SDP,
		Type: local.Type.String(),
	}, nil
}
