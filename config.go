package rtpdepacket

import "time"

// socketReadBufferSizeDefault is the target UDP socket receive-buffer size
// (§6 "Configuration").
const socketReadBufferSizeDefault = 50 * 1024

// reorderingThresholdDefault mirrors ReorderBuffer's defaultThresholdTimeUsec.
const reorderingThresholdDefault = defaultThresholdTimeUsec * time.Microsecond

// Config configures an RtpSource. Zero-value fields other than
// PayloadFormat and TimestampFrequencyHz are defaulted by NewRtpSource, the
// way pkg/rtpreceiver.Receiver.Initialize defaults BufferSize and TimeNow.
type Config struct {
	// PayloadFormat is the RTP payload type this source accepts; packets
	// carrying any other payload type are dropped (§4.1).
	PayloadFormat uint8

	// TimestampFrequencyHz is the RTP clock rate for this payload format
	// (e.g. 90000 for H.264), passed through to RecvStats.
	TimestampFrequencyHz uint32

	// ReorderingThresholdTime is the maximum time to wait at the head of
	// the reorder queue for a missing earlier packet. Defaults to 100ms.
	ReorderingThresholdTime time.Duration

	// SocketReadBufferSize is the target UDP socket receive-buffer size.
	// Defaults to 50KiB. It is advisory: NewRtpSource only fills in the
	// default, and nothing in this module reads the field. A caller that
	// opens its own socket with pkg/netreader can pass it to that reader's
	// SetReadBufferSize.
	SocketReadBufferSize int
}

func (c *Config) setDefaults() {
	if c.ReorderingThresholdTime == 0 {
		c.ReorderingThresholdTime = reorderingThresholdDefault
	}
	if c.SocketReadBufferSize == 0 {
		c.SocketReadBufferSize = socketReadBufferSizeDefault
	}
}
