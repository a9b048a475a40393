package connection

import (
	"context"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/juju/errors"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// rtpSource adapts a remote pion track to media.Source. Each Recv reads
// one RTP packet and exposes its payload as a frame; depacketization
// beyond that is left to the consumer's filters.
type rtpSource struct {
	kind   media.Kind
	remote *webrtc.TrackRemote

	done     chan struct{}
	stopOnce sync.Once
}

var _ media.Source = &rtpSource{}

func newRTPSource(kind media.Kind, remote *webrtc.TrackRemote) *rtpSource {
	return &rtpSource{
		kind:   kind,
		remote: remote,
		done:   make(chan struct{}),
	}
}

func (s *rtpSource) Kind() media.Kind {
	return s.kind
}

// Recv blocks on the underlying track read, not on ctx: pion reads are
// interrupted by closing the peer connection, which ends the track and
// surfaces here as an error.
func (s *rtpSource) Recv(_ context.Context) (media.Frame, error) {
	select {
	case <-s.done:
		return media.Frame{}, errors.Trace(media.ErrEnded)
	default:
	}

	buf := make([]byte, 1500)

	n, _, err := s.remote.Read(buf)
	if err != nil {
		s.Stop()

		return media.Frame{}, errors.Trace(media.ErrEnded)
	}

	var pkt rtp.Packet

	if err := pkt.Unmarshal(buf[:n]); err != nil {
		return media.Frame{}, errors.Annotate(err, "unmarshal rtp packet")
	}

	return media.Frame{
		Kind: s.kind,
		Data: pkt.Payload,
		PTS:  int64(pkt.Timestamp),
	}, nil
}

func (s *rtpSource) Done() <-chan struct{} {
	return s.done
}

func (s *rtpSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
