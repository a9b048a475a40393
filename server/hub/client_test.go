package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/oxtoacart/bpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nhooyr.io/websocket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSocket struct {
	written [][]byte
	inbox   [][]byte
	typ     websocket.MessageType
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{typ: websocket.MessageText}
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, msg []byte) error {
	// The caller reuses its buffer after Write returns.
	data := make([]byte, len(msg))
	copy(data, msg)

	f.written = append(f.written, data)

	return nil
}

func (f *fakeSocket) Read(context.Context) (websocket.MessageType, []byte, error) {
	data := f.inbox[0]
	f.inbox = f.inbox[1:]

	return f.typ, data, nil
}

func TestWSClientWrite(t *testing.T) {
	socket := newFakeSocket()
	client := newWSClient(socket, bpool.NewBufferPool(2))

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Write(context.Background(), message.New(
			message.TypeChat, message.ChatMessage{Message: "hi"},
		)))
	}

	require.Len(t, socket.written, 3)

	for _, data := range socket.written {
		var msg message.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, message.TypeChat, msg.Type)
	}
}

func TestWSClientRead(t *testing.T) {
	socket := newFakeSocket()
	socket.inbox = append(socket.inbox, []byte(`{"type": "PING", "data": {"sent": 12}}`))

	client := newWSClient(socket, bpool.NewBufferPool(2))

	msg, err := client.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.TypePing, msg.Type)
}

func TestWSClientReadRejectsBinary(t *testing.T) {
	socket := newFakeSocket()
	socket.typ = websocket.MessageBinary
	socket.inbox = append(socket.inbox, []byte(`{}`))

	client := newWSClient(socket, bpool.NewBufferPool(2))

	_, err := client.Read(context.Background())
	assert.Error(t, err)
}
