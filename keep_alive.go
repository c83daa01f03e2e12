package coremqtt

import (
	"fmt"
)

// handleKeepAlive sends a PINGREQ once the connection has been idle for the
// keep-alive interval, and reports ErrKeepAliveTimeout when the PINGRESP to
// an earlier PINGREQ is overdue.
// MQTT v3.1.1 spec: Section 3.1.2.10
func (c *Context) handleKeepAlive() error {
	keepAliveMs := 1000 * uint32(c.keepAliveIntervalSec)
	if keepAliveMs == 0 {
		return nil
	}

	now := c.callbacks.GetTime()
	if calculateElapsedTime(now, c.lastPacketTime) <= keepAliveMs {
		return nil
	}

	if !c.waitingForPingResp {
		return c.Ping()
	}

	if waited := calculateElapsedTime(now, c.pingReqSendTimeMs); waited > c.pingRespTimeoutMs {
		c.metrics.keepAliveTimeout()
		c.logger.Error("PINGRESP not received in time", LogFields{LogFieldElapsedMs: waited})
		return fmt.Errorf("%w: no PINGRESP after %d ms", ErrKeepAliveTimeout, waited)
	}

	return nil
}
