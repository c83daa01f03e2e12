package coremqtt

import (
	"errors"
	"fmt"
)

// ProcessLoop receives and handles incoming packets until timeoutMs has
// elapsed or an error occurs. When nothing is pending it runs the
// keep-alive check, sending PINGREQ when due.
//
// Callbacks are invoked synchronously from ProcessLoop. With a timeoutMs
// of 0 the loop runs until the clock advances, normally one iteration.
func (c *Context) ProcessLoop(timeoutMs uint32) error {
	entryTime := c.callbacks.GetTime()
	remainingTime := timeoutMs
	c.controlPacketSent = false

	for {
		err := c.processOne(remainingTime)

		if errors.Is(err, ErrNoDataAvailable) {
			err = nil
		}
		if err != nil {
			c.logger.Error("exiting receive loop", LogFields{
				LogFieldStatus: StatusOf(err).String(),
				LogFieldError:  err,
			})
			return err
		}

		elapsed := calculateElapsedTime(c.callbacks.GetTime(), entryTime)
		if elapsed > timeoutMs {
			return nil
		}
		remainingTime = timeoutMs - elapsed
	}
}

// processOne runs one iteration of the receive loop.
func (c *Context) processOne(remainingTimeMs uint32) error {
	var info PacketInfo

	err := GetIncomingPacketTypeAndLength(c.transport, &info)
	switch {
	case errors.Is(err, ErrNoDataAvailable):
		if err := c.handleKeepAlive(); err != nil {
			return err
		}
		return ErrNoDataAvailable
	case err != nil:
		c.logger.Error("receiving incoming packet length failed", LogFields{LogFieldError: err})
		return err
	}

	if err := c.receivePacket(&info, max(remainingTimeMs, c.recvTimeoutMs)); err != nil {
		return err
	}

	if classifyIncoming(info.Type) == incomingPublish {
		return c.handleIncomingPublish(&info)
	}

	return c.handleIncomingAck(&info)
}

// handleIncomingPublish hands a received PUBLISH to the application, then
// sends the PUBACK or PUBREC it requires.
func (c *Context) handleIncomingPublish(info *PacketInfo) error {
	packetID, publish, err := DeserializePublish(info)
	if err != nil {
		c.logger.Error("failed to deserialize incoming PUBLISH", LogFields{LogFieldError: err})
		return err
	}

	// PubRecSend is left behind when sending the previous PUBREC failed.
	prev := c.state.State(packetID, StateReceive)
	duplicate := publish.QoS == QoS2 && (prev == PubRelPending || prev == PubRecSend)

	state, err := c.state.UpdateStatePublish(packetID, StateReceive, publish.QoS)
	if err != nil {
		c.logger.Error("failed to update state of incoming PUBLISH", LogFields{
			LogFieldPacketID: packetID,
			LogFieldError:    err,
		})
		return err
	}

	c.logger.Info("incoming PUBLISH", LogFields{
		LogFieldPacketID: packetID,
		LogFieldTopic:    publish.TopicName,
		LogFieldQoS:      publish.QoS,
		LogFieldState:    state,
	})

	// A QoS 2 publish is delivered once; a retransmission only gets its PUBREC again.
	if !duplicate {
		c.metrics.messageReceived(publish.QoS)
		c.callbacks.AppCallback(c, info, packetID, &publish)
	}

	return c.sendPublishAcks(packetID, state)
}

// handleIncomingAck processes every packet other than PUBLISH.
func (c *Context) handleIncomingAck(info *PacketInfo) error {
	switch kind := classifyIncoming(info.Type); kind {
	case incomingPuback, incomingPubrec, incomingPubrel, incomingPubcomp:
		packetID, _, err := DeserializeAck(info)
		if err != nil {
			return err
		}

		ack := ackTypeFromKind(kind)

		state, err := c.state.UpdateStateAck(packetID, ack, StateReceive)
		if err != nil {
			c.logger.Error("failed to update publish state", LogFields{
				LogFieldPacketID:   packetID,
				LogFieldPacketType: info.Type,
				LogFieldError:      err,
			})
			return err
		}
		c.logger.Info("publish acknowledgment received", LogFields{
			LogFieldPacketID:   packetID,
			LogFieldPacketType: info.Type,
			LogFieldState:      state,
		})
		c.metrics.inFlight(c.state.Count())

		c.callbacks.AppCallback(c, info, packetID, nil)

		return c.sendPublishAcks(packetID, state)

	case incomingPingresp:
		c.waitingForPingResp = false

		packetID, _, err := DeserializeAck(info)
		if err != nil {
			return err
		}
		c.callbacks.AppCallback(c, info, packetID, nil)

		return nil

	case incomingSuback:
		packetID, codes, err := GetSubackStatusCodes(info)
		if err != nil {
			return err
		}
		for i, code := range codes {
			if code == SubackFailure {
				c.logger.Warn("subscription refused by broker", LogFields{
					LogFieldPacketID: packetID,
					"index":          i,
				})
			}
		}
		c.callbacks.AppCallback(c, info, packetID, nil)

		return nil

	case incomingUnsuback:
		packetID, _, err := DeserializeAck(info)
		if err != nil {
			return err
		}
		c.callbacks.AppCallback(c, info, packetID, nil)

		return nil

	default:
		c.logger.Error("unexpected packet type from server", LogFields{LogFieldPacketType: info.Type})
		return fmt.Errorf("%w: unexpected packet type 0x%02X", ErrBadResponse, byte(info.Type))
	}
}

// ackToSend returns the acknowledgment owed in state, if any.
func ackToSend(state PublishState) (PubAckType, bool) {
	switch state {
	case PubAckSend:
		return Puback, true
	case PubRecSend:
		return Pubrec, true
	case PubRelSend:
		return Pubrel, true
	case PubCompSend:
		return Pubcomp, true
	default:
		return 0, false
	}
}

// sendPublishAcks sends the acknowledgment state calls for and advances the
// record of packetID.
func (c *Context) sendPublishAcks(packetID uint16, state PublishState) error {
	ack, ok := ackToSend(state)
	if !ok {
		return nil
	}

	packetType := ack.packetType()

	if err := SerializeAck(c.networkBuffer, packetType, packetID); err != nil {
		return err
	}

	if err := c.send(packetType, PublishAckPacketSize); err != nil {
		c.logger.Error("failed to send acknowledgment", LogFields{
			LogFieldPacketID:   packetID,
			LogFieldPacketType: packetType,
		})
		return err
	}

	c.controlPacketSent = true

	next, err := c.state.UpdateStateAck(packetID, ack, StateSend)
	if err != nil {
		c.logger.Error("failed to update state of publish", LogFields{
			LogFieldPacketID: packetID,
			LogFieldError:    err,
		})
		return err
	}
	c.logger.Debug("acknowledgment sent", LogFields{
		LogFieldPacketID:   packetID,
		LogFieldPacketType: packetType,
		LogFieldState:      next,
	})
	c.metrics.inFlight(c.state.Count())

	return nil
}
