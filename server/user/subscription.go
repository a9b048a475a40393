package user

import (
	"github.com/experiment-hub/experiment-hub/server/emitter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/juju/errors"
)

// AddSubscriber delivers this user's stream to target. When this user's
// own connection is not yet bound, the attempt is deferred until it is.
func (c *Core) AddSubscriber(target User) {
	c.whenBound(func() {
		c.addSubscriber(target)
	})
}

func (c *Core) addSubscriber(target User) {
	logCtx := logger.Ctx{
		"subscriber_id": target.ID(),
	}

	// A simultaneous-join race: the target will subscribe the other way
	// around once its own connection binds.
	if !target.Bound() {
		c.log.Debug("Subscriber connection not set, skipping", logCtx)

		return
	}

	conn := c.connection()

	c.subMu.Lock()

	if _, ok := c.subscribers[target.ID()]; ok {
		c.subMu.Unlock()

		return
	}

	proposal, err := conn.CreateSubscriberProposal(c.proposalPayload(target))
	if err != nil {
		c.subMu.Unlock()

		c.log.Error("Create subscriber proposal", errors.Trace(err), logCtx)

		return
	}

	target.Send(message.New(message.TypeConnectionProposal, proposal))

	c.subscribers[target.ID()] = proposal.ID

	c.subMu.Unlock()

	c.log.Info("Subscriber added", logger.Ctx{
		"subscriber_id": target.ID(),
		"sub_conn_id":   proposal.ID,
	})

	subConnID := proposal.ID
	targetEvents := target.Events()

	var offerSub, candidateSub, targetGoneSub, ownGoneSub emitter.Subscription

	// One-shot per proposal: consumed by the first offer carrying this
	// proposal's id.
	offerSub = targetEvents.On(EventConnectionOffer, func(payload interface{}) {
		offer, ok := payload.(message.ConnectionOffer)
		if !ok || offer.ID != subConnID {
			return
		}

		targetEvents.Off(offerSub)

		answer, err := conn.HandleSubscriberOffer(offer)
		if err != nil {
			c.sendHandshakeError(target, err, "Handle subscriber offer", logCtx)

			return
		}

		target.Send(message.New(message.TypeConnectionAnswer, answer))
	})

	candidateSub = targetEvents.On(EventAddIceCandidate, func(payload interface{}) {
		candidate, ok := payload.(message.AddIceCandidate)
		if !ok || candidate.ID != subConnID {
			return
		}

		if err := conn.HandleSubscriberCandidate(candidate); err != nil {
			c.sendHandshakeError(target, err, "Handle subscriber candidate", logCtx)

			return
		}

		target.Send(message.NewSuccess(
			message.TypeAddIceCandidate, "Successfully added ICE candidate.",
		))
	})

	targetGoneSub = targetEvents.Once(EventDisconnected, func(interface{}) {
		targetEvents.Off(offerSub)
		targetEvents.Off(candidateSub)
		c.events.Off(ownGoneSub)

		c.dropSubscription(target.ID())
	})

	// Own disconnect: detach the listeners left on target so they do not
	// leak. The sub-connection itself dies with the connection.
	ownGoneSub = c.events.Once(EventDisconnected, func(interface{}) {
		targetEvents.Off(offerSub)
		targetEvents.Off(candidateSub)
		targetEvents.Off(targetGoneSub)
	})
}

// proposalPayload is the identity shown to the subscriber: experimenters
// get the raw id, everyone else the sanitized summary.
func (c *Core) proposalPayload(target User) interface{} {
	if target.Experimenter() {
		return string(c.id)
	}

	return c.Summary()
}

// sendHandshakeError converts a handshake failure into an ERROR message
// for the requesting peer instead of raising it at the owner.
func (c *Core) sendHandshakeError(target User, err error, msg string, logCtx logger.Ctx) {
	if domainErr, ok := message.AsDomainError(err); ok {
		target.Send(domainErr.Message())

		return
	}

	c.log.Error(msg, errors.Trace(err), logCtx)

	target.Send(message.NewError(message.NewDomainError(
		500, message.ErrTypeInternalServerError,
		"Internal server error. See server log for details.",
	)))
}

// dropSubscription pops the subscriber-map entry and stops its
// sub-connection. The pop makes the stop exactly-once even when both the
// disconnect listener and an explicit removal race.
func (c *Core) dropSubscription(targetID identifiers.UserID) {
	c.subMu.Lock()

	subConnID, ok := c.subscribers[targetID]
	if ok {
		delete(c.subscribers, targetID)
	}

	c.subMu.Unlock()

	if !ok {
		return
	}

	conn := c.connection()
	if conn == nil {
		return
	}

	if err := conn.StopSubConnection(subConnID); err != nil {
		c.log.Error("Stop sub-connection", errors.Trace(err), logger.Ctx{
			"sub_conn_id": subConnID,
		})
	}
}

// RemoveSubscriber stops delivering this user's stream to target.
// Removing a target that is not subscribed is a caller bug and is logged
// as an error, not raised.
func (c *Core) RemoveSubscriber(target User) {
	c.subMu.Lock()

	subConnID, ok := c.subscribers[target.ID()]
	if ok {
		delete(c.subscribers, target.ID())
	}

	c.subMu.Unlock()

	if !ok {
		c.log.Error("Remove subscriber: not a subscriber", nil, logger.Ctx{
			"subscriber_id": target.ID(),
		})

		return
	}

	conn := c.connection()
	if conn == nil {
		return
	}

	if err := conn.StopSubConnection(subConnID); err != nil {
		c.log.Error("Stop sub-connection", errors.Trace(err), logger.Ctx{
			"sub_conn_id": subConnID,
		})
	}
}

// Subscribers returns a snapshot of the current subscriber map.
func (c *Core) Subscribers() map[identifiers.UserID]identifiers.SubConnID {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ret := make(map[identifiers.UserID]identifiers.SubConnID, len(c.subscribers))
	for userID, subConnID := range c.subscribers {
		ret[userID] = subConnID
	}

	return ret
}
