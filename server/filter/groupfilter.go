package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/juju/errors"
)

// TemplateGroup is the reference group filter: it forwards one scalar
// per frame (mean sample value) to the aggregator and keeps the last
// aggregation result as telemetry. The frame itself passes through
// unmodified.
type TemplateGroup struct {
	base

	mu         sync.Mutex
	dataConn   net.Conn
	resultConn net.PacketConn
	lastResult json.RawMessage
	frames     int64
}

var _ GroupFilter = &TemplateGroup{}
var _ DataProvider = &TemplateGroup{}
var _ Cleaner = &TemplateGroup{}

func templateGroupDescriptor() Descriptor {
	return Descriptor{
		Type:        "TemplateGroupFilter",
		Category:    CategoryTest,
		Channel:     media.KindVideo,
		GroupFilter: true,
		New: func(id identifiers.FilterID, config message.FilterConfig) (Filter, error) {
			return &TemplateGroup{
				base: newBase(id, "TemplateGroupFilter", message.ChannelVideo, config),
			}, nil
		},
	}
}

func (f *TemplateGroup) Channel() media.Kind {
	return media.KindVideo
}

// ConnectAggregator dials the aggregator port pair on localhost.
func (f *TemplateGroup) ConnectAggregator(dataPort, resultPort int) error {
	dataConn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", dataPort))
	if err != nil {
		return errors.Annotatef(err, "dial aggregator data port: %d", dataPort)
	}

	resultConn, err := net.ListenPacket("udp", fmt.Sprintf("127.0.0.1:%d", resultPort))
	if err != nil {
		_ = dataConn.Close()

		return errors.Annotatef(err, "listen aggregator result port: %d", resultPort)
	}

	f.mu.Lock()
	f.dataConn = dataConn
	f.resultConn = resultConn
	f.mu.Unlock()

	go f.readResults(resultConn)

	return nil
}

func (f *TemplateGroup) readResults(conn net.PacketConn) {
	buf := make([]byte, 64*1024)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}

		result := make(json.RawMessage, n)
		copy(result, buf[:n])

		f.mu.Lock()
		f.lastResult = result
		f.mu.Unlock()
	}
}

func (f *TemplateGroup) Process(_ context.Context, frame media.Frame) (media.Frame, error) {
	var sum int64

	for _, b := range frame.Data {
		sum += int64(b)
	}

	mean := float64(0)
	if len(frame.Data) > 0 {
		mean = float64(sum) / float64(len(frame.Data))
	}

	f.mu.Lock()
	f.frames++
	dataConn := f.dataConn
	f.mu.Unlock()

	if dataConn != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"filter_id": f.id,
			"pts":       frame.PTS,
			"mean":      mean,
		})
		if err == nil {
			// Aggregator datagrams are best effort; a slow or absent
			// aggregator must not stall the media pipeline.
			_, _ = dataConn.Write(payload)
		}
	}

	return frame, nil
}

func (f *TemplateGroup) FilterData() (message.FilterData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := f.lastResult
	if result == nil {
		result = json.RawMessage("null")
	}

	data, err := json.Marshal(map[string]interface{}{
		"frames":      f.frames,
		"last_result": result,
	})
	if err != nil {
		return message.FilterData{}, errors.Trace(err)
	}

	return message.FilterData{
		ID:   f.id,
		Name: f.name,
		Data: data,
	}, nil
}

// Cleanup closes the aggregator sockets.
func (f *TemplateGroup) Cleanup() error {
	f.mu.Lock()
	dataConn := f.dataConn
	resultConn := f.resultConn
	f.dataConn = nil
	f.resultConn = nil
	f.mu.Unlock()

	if dataConn != nil {
		_ = dataConn.Close()
	}

	if resultConn != nil {
		_ = resultConn.Close()
	}

	return nil
}
