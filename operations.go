package coremqtt

import (
	"errors"
	"fmt"
)

// send transmits the first size bytes of the network buffer.
func (c *Context) send(t PacketType, size int) error {
	if n := c.sendPacket(c.networkBuffer[:size]); n < 0 {
		return fmt.Errorf("%w: %s", ErrSendFailed, t)
	}

	c.metrics.packetSent(t)
	c.logger.Debug("packet sent", LogFields{
		LogFieldPacketType: t,
		LogFieldBytes:      size,
	})

	return nil
}

// Connect sends CONNECT and waits up to timeoutMs for the CONNACK. It
// returns the session present flag of the CONNACK.
//
// A CONNACK refusing the connection yields a *ConnackError, which matches
// ErrServerRefused. Any packet other than CONNACK yields ErrBadResponse.
func (c *Context) Connect(info *ConnectInfo, will *PublishInfo, timeoutMs uint32) (bool, error) {
	if info == nil {
		return false, fmt.Errorf("%w: connect info is nil", ErrBadParameter)
	}

	remainingLength, packetSize, err := GetConnectPacketSize(info, will)
	if err != nil {
		return false, err
	}
	c.logger.Debug("CONNECT packet size computed", LogFields{
		LogFieldBytes:  packetSize,
		LogFieldLength: remainingLength,
	})

	if err := SerializeConnect(info, will, remainingLength, c.networkBuffer); err != nil {
		return false, err
	}

	if err := c.send(PacketCONNECT, packetSize); err != nil {
		return false, err
	}

	sessionPresent, err := c.receiveConnack(timeoutMs)
	if err != nil {
		c.logger.Error("MQTT connection failed", LogFields{LogFieldError: err})
		return false, err
	}

	c.connectStatus = Connected
	c.keepAliveIntervalSec = info.KeepAliveIntervalSec
	c.waitingForPingResp = false
	c.metrics.connected(true)

	c.logger.Info("MQTT connection established with the broker", LogFields{
		LogFieldClientID: info.ClientIdentifier,
		"session":        sessionPresent,
	})

	return sessionPresent, nil
}

// receiveConnack polls for the fixed header until timeoutMs has elapsed,
// then reads the body with whatever budget is left. The body is read at
// least once even when the budget is spent.
func (c *Context) receiveConnack(timeoutMs uint32) (bool, error) {
	entryTime := c.callbacks.GetTime()

	var info PacketInfo
	var err error

	for {
		err = GetIncomingPacketTypeAndLength(c.transport, &info)
		if !errors.Is(err, ErrNoDataAvailable) ||
			calculateElapsedTime(c.callbacks.GetTime(), entryTime) >= timeoutMs {
			break
		}
	}
	if err != nil {
		return false, err
	}

	if info.Type != PacketCONNACK {
		c.logger.Error("incorrect packet type received while expecting CONNACK", LogFields{
			LogFieldPacketType: info.Type,
		})
		return false, fmt.Errorf("%w: expected CONNACK, received 0x%02X", ErrBadResponse, byte(info.Type))
	}

	var remainingTime uint32
	if taken := calculateElapsedTime(c.callbacks.GetTime(), entryTime); taken < timeoutMs {
		remainingTime = timeoutMs - taken
	}

	if err := c.receivePacket(&info, remainingTime); err != nil {
		return false, err
	}

	return DeserializeConnack(&info)
}

// Publish sends a PUBLISH. QoS 0 publishes must use packet identifier 0,
// QoS 1 and QoS 2 publishes a non-zero identifier from GetPacketID.
//
// The header is serialized into the network buffer and the payload is sent
// from info directly, so the payload may be larger than the buffer.
func (c *Context) Publish(info *PublishInfo, packetID uint16) error {
	if info == nil {
		return fmt.Errorf("%w: publish info is nil", ErrBadParameter)
	}
	if info.QoS != QoS0 && packetID == 0 {
		return fmt.Errorf("%w: packet identifier is 0 for PUBLISH with QoS %d", ErrBadParameter, info.QoS)
	}
	if info.QoS == QoS0 && packetID != 0 {
		return fmt.Errorf("%w: packet identifier %d for PUBLISH with QoS 0", ErrBadParameter, packetID)
	}

	remainingLength, packetSize, err := GetPublishPacketSize(info)
	if err != nil {
		return err
	}

	headerSize, err := SerializePublishHeader(info, packetID, remainingLength, c.networkBuffer)
	if err != nil {
		return err
	}
	c.logger.Debug("PUBLISH header serialized", LogFields{
		LogFieldBytes:  packetSize,
		"header_size":  headerSize,
		LogFieldTopic:  info.TopicName,
		LogFieldQoS:    info.QoS,
		LogFieldLength: remainingLength,
	})

	if info.QoS > QoS0 {
		if err := c.state.ReserveState(packetID, info.QoS); err != nil {
			return err
		}
	}

	if err := c.sendPublish(info, headerSize); err != nil {
		if info.QoS > QoS0 {
			if rerr := c.state.ReleaseState(packetID); rerr != nil {
				c.logger.Warn("failed to release publish state", LogFields{
					LogFieldPacketID: packetID,
					LogFieldError:    rerr,
				})
			}
		}
		c.logger.Error("MQTT PUBLISH failed", LogFields{
			LogFieldPacketID: packetID,
			LogFieldError:    err,
		})
		return err
	}

	if info.QoS > QoS0 {
		state, err := c.state.UpdateStatePublish(packetID, StateSend, info.QoS)
		if err != nil {
			c.logger.Error("PUBLISH sent but its state could not be updated", LogFields{
				LogFieldPacketID: packetID,
				LogFieldError:    err,
			})
			return err
		}
		c.logger.Debug("publish state updated", LogFields{
			LogFieldPacketID: packetID,
			LogFieldState:    state,
		})
	}

	c.metrics.inFlight(c.state.Count())

	return nil
}

// sendPublish sends the serialized header, then the payload.
func (c *Context) sendPublish(info *PublishInfo, headerSize int) error {
	if c.sendPacket(c.networkBuffer[:headerSize]) < 0 {
		return fmt.Errorf("%w: PUBLISH header", ErrSendFailed)
	}

	if len(info.Payload) > 0 {
		if c.sendPacket(info.Payload) < 0 {
			return fmt.Errorf("%w: PUBLISH payload", ErrSendFailed)
		}
	}

	c.metrics.packetSent(PacketPUBLISH)

	return nil
}

func validateSubscriptions(subscriptions []SubscribeInfo, packetID uint16) error {
	if len(subscriptions) == 0 {
		return fmt.Errorf("%w: subscription list is empty", ErrBadParameter)
	}
	if packetID == 0 {
		return fmt.Errorf("%w: packet identifier is 0", ErrBadParameter)
	}
	return nil
}

// Subscribe sends a SUBSCRIBE for subscriptions. The SUBACK is delivered
// to the application callback by ProcessLoop.
func (c *Context) Subscribe(subscriptions []SubscribeInfo, packetID uint16) error {
	if err := validateSubscriptions(subscriptions, packetID); err != nil {
		return err
	}

	remainingLength, packetSize, err := GetSubscribePacketSize(subscriptions)
	if err != nil {
		return err
	}

	if err := SerializeSubscribe(subscriptions, packetID, remainingLength, c.networkBuffer); err != nil {
		return err
	}

	return c.send(PacketSUBSCRIBE, packetSize)
}

// Unsubscribe sends an UNSUBSCRIBE for subscriptions. The UNSUBACK is
// delivered to the application callback by ProcessLoop.
func (c *Context) Unsubscribe(subscriptions []SubscribeInfo, packetID uint16) error {
	if err := validateSubscriptions(subscriptions, packetID); err != nil {
		return err
	}

	remainingLength, packetSize, err := GetUnsubscribePacketSize(subscriptions)
	if err != nil {
		return err
	}

	if err := SerializeUnsubscribe(subscriptions, packetID, remainingLength, c.networkBuffer); err != nil {
		return err
	}

	return c.send(PacketUNSUBSCRIBE, packetSize)
}

// Ping sends a PINGREQ and starts waiting for the PINGRESP.
func (c *Context) Ping() error {
	packetSize, err := GetPingreqPacketSize()
	if err != nil {
		return err
	}

	if err := SerializePingreq(c.networkBuffer); err != nil {
		return err
	}

	if err := c.send(PacketPINGREQ, packetSize); err != nil {
		return err
	}

	c.pingReqSendTimeMs = c.lastPacketTime
	c.waitingForPingResp = true
	c.metrics.pingSent()

	return nil
}

// Disconnect sends a DISCONNECT. The connection state only changes when the
// packet was sent; closing the transport is left to the caller.
func (c *Context) Disconnect() error {
	packetSize, err := GetDisconnectPacketSize()
	if err != nil {
		return err
	}

	if err := SerializeDisconnect(c.networkBuffer); err != nil {
		return err
	}

	if err := c.send(PacketDISCONNECT, packetSize); err != nil {
		return err
	}

	c.connectStatus = NotConnected
	c.metrics.connected(false)
	c.logger.Info("disconnected from the broker", nil)

	return nil
}
