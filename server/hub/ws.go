package hub

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/user"
	"github.com/experiment-hub/experiment-hub/server/uuid"
	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
	"nhooyr.io/websocket"
)

// mainConnID is the reserved sub-connection id clients use to address
// the main connection during the initial handshake over the websocket.
const mainConnID = identifiers.SubConnID("main")

const roleExperimenter = "experimenter"

const bufferPoolSize = 64

type WSHandlerParams struct {
	Log      logger.Logger
	Factory  *connection.Factory
	Manager  *Manager
	Registry *filter.Registry

	RecordingDir string

	PingPeriod time.Duration
	PingWindow time.Duration
}

// wsHandler is the signaling endpoint. One websocket connection admits
// one user into one experiment: the socket carries the main connection
// handshake and any envelope the client prefers not to send over the
// data channel.
type wsHandler struct {
	log    logger.Logger
	params WSHandlerParams
	pool   *bpool.BufferPool
}

func NewWSHandler(params WSHandlerParams) http.Handler {
	return &wsHandler{
		log:    params.Log.WithNamespaceAppended("ws"),
		params: params,
		pool:   bpool.NewBufferPool(bufferPoolSize),
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error

	start := time.Now()

	prometheusWSConnTotal.Inc()
	prometheusWSConnActive.Inc()

	defer func() {
		prometheusWSConnActive.Dec()

		if err != nil {
			prometheusWSConnErrTotal.Inc()
		}

		prometheusWSConnDuration.Observe(time.Since(start).Seconds())
	}()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.log.Error("Accept websocket", errors.Trace(err), nil)

		return
	}

	defer c.Close(websocket.StatusInternalError, "")

	userID := identifiers.UserID(path.Base(r.URL.Path))
	role := path.Base(path.Dir(r.URL.Path))
	experimentID := identifiers.ExperimentID(path.Base(path.Dir(path.Dir(r.URL.Path))))

	if userID == "" || userID == "." {
		userID = identifiers.UserID(uuid.New())
	}

	log := h.log.WithCtx(logger.Ctx{
		"experiment_id": experimentID,
		"user_id":       userID,
	})

	log.Info("Websocket connected", logger.Ctx{
		"role": role,
	})

	ctx := r.Context()
	client := newWSClient(c, h.pool)

	exp := h.params.Manager.Enter(experimentID)
	defer h.params.Manager.Exit(experimentID)

	// The user exists before the connection, so the OnMessage closure
	// below never sees an unassigned dispatcher.
	var u user.User

	if role == roleExperimenter {
		u = user.NewExperimenter(user.ExperimenterParams{
			Log: h.params.Log,
			ID:  userID,
		})
	} else {
		u = user.NewParticipant(user.ParticipantParams{
			Log: h.params.Log,
			ID:  userID,
			Summary: message.ParticipantSummary{
				Name: r.URL.Query().Get("name"),
			},
			PingPeriod: h.params.PingPeriod,
			PingWindow: h.params.PingWindow,
		})
	}

	conn, err := h.params.Factory.NewConn(connection.Params{
		Log:      log,
		UserID:   userID,
		Registry: h.params.Registry,
		OnMessage: func(msg message.Message) {
			u.HandleMessage(msg)
		},
		RecordingSink: newRecordingSink(h.params.RecordingDir, experimentID, userID),
	})
	if err != nil {
		log.Error("New connection", errors.Trace(err), nil)

		return
	}

	prometheusWebRTCConnTotal.Inc()
	prometheusWebRTCConnActive.Inc()

	defer prometheusWebRTCConnActive.Dec()

	if err = u.SetConnection(conn); err == nil {
		switch concrete := u.(type) {
		case *user.Experimenter:
			err = exp.AddExperimenter(concrete)
		case *user.Participant:
			err = exp.AddParticipant(concrete)
		}
	}

	if err != nil {
		if domainErr, ok := message.AsDomainError(err); ok {
			_ = client.Write(ctx, domainErr.Message())
		}

		log.Error("Admit user", errors.Trace(err), nil)

		u.Disconnect()

		return
	}

	defer u.Disconnect()

	// Kick and ban reach the user first; closing the socket here ends
	// the read loop below.
	u.Events().Once(user.EventDisconnected, func(interface{}) {
		c.Close(websocket.StatusNormalClosure, "disconnected")
	})

	for {
		var msg message.Message

		msg, err = client.Read(ctx)
		if err != nil {
			break
		}

		h.dispatch(ctx, log, client, conn, u, msg)
	}

	log.Info("Websocket disconnected", nil)

	cause := errors.Cause(err)

	if cause == context.Canceled {
		err = nil

		return
	}

	if status := websocket.CloseStatus(cause); status == websocket.StatusNormalClosure ||
		status == websocket.StatusGoingAway {
		err = nil

		return
	}

	if err != nil {
		log.Debug("Websocket read failed", logger.Ctx{
			"err": err,
		})
	}
}

// dispatch routes one inbound envelope. Handshake messages addressed to
// the main connection are handled here; everything else, including
// sub-connection handshakes, goes through the user's regular dispatch.
func (h *wsHandler) dispatch(
	ctx context.Context,
	log logger.Logger,
	client *wsClient,
	conn *connection.Conn,
	u user.User,
	msg message.Message,
) {
	prometheusWSMessagesTotal.Inc()

	switch msg.Type {
	case message.TypeConnectionOffer:
		offer, ok := message.UnmarshalConnectionOffer(msg.Data)
		if ok && offer.ID == mainConnID {
			answer, err := conn.HandleOffer(offer.Offer)
			if err != nil {
				log.Error("Answer main offer", errors.Trace(err), nil)

				_ = client.Write(ctx, message.NewError(message.NewDomainError(
					500, message.ErrTypeInternalServerError,
					"Internal server error. See server log for details.",
				)))

				return
			}

			_ = client.Write(ctx, message.New(message.TypeConnectionAnswer, message.ConnectionAnswer{
				ID:     mainConnID,
				Answer: answer,
			}))

			return
		}
	case message.TypeAddIceCandidate:
		candidate, ok := message.UnmarshalAddIceCandidate(msg.Data)
		if ok && candidate.ID == mainConnID {
			if err := conn.AddICECandidate(candidate.Candidate); err != nil {
				log.Error("Add main candidate", errors.Trace(err), nil)
			}

			return
		}
	}

	u.HandleMessage(msg)
}
