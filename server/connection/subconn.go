package connection

import (
	"context"
	"sync"
	"time"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/multierr"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
	webrtcmedia "github.com/pion/webrtc/v3/pkg/media"
)

const (
	audioFrameDuration = 20 * time.Millisecond
	videoFrameDuration = 33 * time.Millisecond
)

// subConn is one subscriber's relay path: a dedicated peer connection
// carrying this peer's filtered audio and video tracks. It answers the
// subscriber's offer and streams until stopped.
type subConn struct {
	log logger.Logger
	id  identifiers.SubConnID

	pc *webrtc.PeerConnection

	audio *track.Proxy
	video *track.Proxy

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

type subConnParams struct {
	log        logger.Logger
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	id         identifiers.SubConnID
	audio      *track.Proxy
	video      *track.Proxy
}

func newSubConn(params subConnParams) (*subConn, error) {
	log := params.log.WithNamespaceAppended("sub_conn").WithCtx(logger.Ctx{
		"sub_conn_id": params.id,
	})

	stopProxies := func(reason error) error {
		params.audio.Stop()
		params.video.Stop()

		return errors.Trace(reason)
	}

	pc, err := params.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: params.iceServers,
	})
	if err != nil {
		return nil, stopProxies(errors.Annotate(err, "new peer connection"))
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", string(params.id),
	)
	if err != nil {
		_ = pc.Close()

		return nil, stopProxies(errors.Annotate(err, "new audio track"))
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", string(params.id),
	)
	if err != nil {
		_ = pc.Close()

		return nil, stopProxies(errors.Annotate(err, "new video track"))
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		_ = pc.Close()

		return nil, stopProxies(errors.Annotate(err, "add audio track"))
	}

	if _, err := pc.AddTrack(videoTrack); err != nil {
		_ = pc.Close()

		return nil, stopProxies(errors.Annotate(err, "add video track"))
	}

	ctx, cancel := context.WithCancel(context.Background())

	sc := &subConn{
		log:    log,
		id:     params.id,
		pc:     pc,
		audio:  params.audio,
		video:  params.video,
		cancel: cancel,
	}

	sc.wg.Add(2)

	go sc.bridge(ctx, params.audio, audioTrack, audioFrameDuration)
	go sc.bridge(ctx, params.video, videoTrack, videoFrameDuration)

	return sc, nil
}

// bridge copies frames from a track proxy into the outgoing local track.
// Writing before the track is bound to a transport is a no-op, so the
// bridge can start ahead of the offer/answer exchange.
func (sc *subConn) bridge(
	ctx context.Context,
	proxy *track.Proxy,
	local *webrtc.TrackLocalStaticSample,
	duration time.Duration,
) {
	defer sc.wg.Done()

	for {
		frame, err := proxy.Recv(ctx)
		if err != nil {
			cause := errors.Cause(err)
			if cause != media.ErrEnded && cause != context.Canceled {
				sc.log.Error("Bridge recv", errors.Trace(err), nil)
			}

			return
		}

		err = local.WriteSample(webrtcmedia.Sample{
			Data:     frame.Data,
			Duration: duration,
		})
		if err != nil {
			sc.log.Error("Bridge write sample", errors.Trace(err), nil)

			return
		}
	}
}

func (sc *subConn) handleOffer(offer message.SessionDescription) (message.SessionDescription, error) {
	answer, err := answerOffer(sc.pc, offer)

	return answer, errors.Trace(err)
}

func (sc *subConn) addCandidate(candidate message.RTCIceCandidate) error {
	err := sc.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})

	return errors.Annotate(err, "add ice candidate")
}

// stop tears the relay path down. Safe to call more than once; only the
// first call does the work.
func (sc *subConn) stop() error {
	sc.stopOnce.Do(func() {
		var errs multierr.MultiErr

		sc.cancel()

		sc.audio.Stop()
		sc.video.Stop()

		sc.wg.Wait()

		errs.Add(errors.Annotate(sc.pc.Close(), "close peer connection"))

		sc.stopErr = errs.Err()

		sc.log.Debug("Sub-connection stopped", nil)
	})

	return errors.Trace(sc.stopErr)
}
