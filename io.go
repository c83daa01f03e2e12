package coremqtt

import (
	"fmt"
)

// sendPacket writes buf through the transport, retrying partial writes.
// It returns the number of bytes sent, or -1 as soon as one call fails or
// writes nothing. lastPacketTime is only updated when every byte was sent.
func (c *Context) sendPacket(buf []byte) int {
	sendTime := c.callbacks.GetTime()
	total := 0

	for total < len(buf) {
		n, err := c.transport.Send(buf[total:])
		if err != nil || n <= 0 {
			c.logger.Error("transport send failed", LogFields{
				LogFieldBytes: total,
				LogFieldError: err,
			})
			return -1
		}

		total += n
		c.logger.Debug("bytes sent", LogFields{
			LogFieldBytes: n,
			"remaining":   len(buf) - total,
		})
	}

	if total > 0 {
		c.lastPacketTime = sendTime
		c.metrics.bytesSent(total)
	}

	return total
}

// recvExact reads n bytes into the front of the network buffer. Reads that
// return nothing are retried until timeoutMs has elapsed. It returns the
// number of bytes received and an error when fewer than n arrived.
func (c *Context) recvExact(n int, timeoutMs uint32) (int, error) {
	buf := c.networkBuffer[:n]
	entryTime := c.callbacks.GetTime()
	received := 0

	for received < n {
		r, err := c.transport.Recv(buf[received:])
		if err != nil {
			c.logger.Error("network error while receiving packet", LogFields{LogFieldError: err})
			return received, fmt.Errorf("%w: %v", ErrRecvFailed, err)
		}
		received += r

		if received < n && calculateElapsedTime(c.callbacks.GetTime(), entryTime) >= timeoutMs {
			c.logger.Error("time expired while receiving packet", LogFields{
				LogFieldBytes: received,
				"expected":    n,
			})
			return received, fmt.Errorf("%w: received %d of %d bytes before timeout", ErrRecvFailed, received, n)
		}
	}

	return received, nil
}

// discardPacket reads and drops a packet too large for the network buffer.
// It returns ErrNoDataAvailable once the whole packet is consumed.
func (c *Context) discardPacket(remainingLength int, timeoutMs uint32) error {
	chunk := len(c.networkBuffer)
	entryTime := c.callbacks.GetTime()
	remainingTime := timeoutMs
	total := 0

	for total < remainingLength {
		want := min(chunk, remainingLength-total)

		n, err := c.recvExact(want, remainingTime)
		if err != nil || n != want {
			c.logger.Error("receive error while discarding packet", LogFields{
				LogFieldBytes: n,
				"expected":    want,
			})
			return fmt.Errorf("%w: discarded %d of %d bytes", ErrRecvFailed, total+n, remainingLength)
		}
		total += n

		elapsed := calculateElapsedTime(c.callbacks.GetTime(), entryTime)
		if elapsed >= timeoutMs {
			if total < remainingLength {
				c.logger.Error("time expired while discarding packet", LogFields{LogFieldBytes: total})
				return fmt.Errorf("%w: discarded %d of %d bytes before timeout", ErrRecvFailed, total, remainingLength)
			}
			break
		}
		remainingTime = timeoutMs - elapsed
	}

	c.logger.Error("dumped packet larger than network buffer", LogFields{
		LogFieldLength: remainingLength,
		"buffer_size":  len(c.networkBuffer),
	})
	c.metrics.packetDiscarded()

	return ErrNoDataAvailable
}

// receivePacket reads the remaining bytes of info into the network buffer,
// or discards them when they do not fit.
func (c *Context) receivePacket(info *PacketInfo, remainingTimeMs uint32) error {
	if info.RemainingLength > len(c.networkBuffer) {
		c.logger.Error("incoming packet will be dumped", LogFields{
			LogFieldPacketType: info.Type,
			LogFieldLength:     info.RemainingLength,
			"buffer_size":      len(c.networkBuffer),
		})
		return c.discardPacket(info.RemainingLength, remainingTimeMs)
	}

	n, err := c.recvExact(info.RemainingLength, remainingTimeMs)
	if n != info.RemainingLength {
		if err == nil {
			err = fmt.Errorf("%w: received %d of %d bytes", ErrRecvFailed, n, info.RemainingLength)
		}
		c.logger.Error("packet reception failed", LogFields{
			LogFieldBytes:  n,
			LogFieldLength: info.RemainingLength,
		})
		return err
	}

	info.RemainingData = c.networkBuffer[:n]
	c.metrics.packetReceived(info)
	c.logger.Debug("packet received", LogFields{
		LogFieldPacketType: info.Type,
		LogFieldBytes:      n,
	})

	return nil
}
