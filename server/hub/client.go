package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

type wsWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, msg []byte) error
}

type wsReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

type wsReadWriter interface {
	wsReader
	wsWriter
}

// wsClient frames message envelopes over one websocket. Outbound
// envelopes are encoded into pooled buffers shared by all clients of a
// handler.
type wsClient struct {
	conn wsReadWriter
	pool *bpool.BufferPool
}

func newWSClient(conn wsReadWriter, pool *bpool.BufferPool) *wsClient {
	return &wsClient{
		conn: conn,
		pool: pool,
	}
}

func (c *wsClient) Write(ctx context.Context, msg message.Message) error {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	if err := json.NewEncoder(buf).Encode(&msg); err != nil {
		return errors.Annotate(err, "encode message")
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return errors.Annotate(
		c.conn.Write(ctx, websocket.MessageText, buf.Bytes()),
		"write message",
	)
}

func (c *wsClient) Read(ctx context.Context) (message.Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return message.Message{}, errors.Annotate(err, "read message")
	}

	if typ != websocket.MessageText {
		return message.Message{}, errors.Errorf("unexpected message type: %d", typ)
	}

	var msg message.Message

	if err := json.Unmarshal(data, &msg); err != nil {
		return message.Message{}, errors.Annotate(err, "decode message")
	}

	return msg, nil
}
