package rtpdepacket

import "net"

// MaxPacketSize is the capacity of a BufferedPacket, matching the live555
// convention this engine's reorder buffer descends from.
const MaxPacketSize = 10000

// NetReader supplies raw datagrams to a BufferedPacket. It is an external
// collaborator: see pkg/netreader for a concrete UDP-backed implementation.
type NetReader interface {
	// HandleRead attempts to fill buf with one datagram's worth of data.
	// isPartial reports that the read did not complete and must be resumed
	// on the next readability notification; ok is false on unrecoverable
	// I/O failure.
	HandleRead(buf []byte) (n int, from net.Addr, isPartial bool, ok bool)
}

// Scheduler provides deferred task posting, used by RtpSource's deliver loop
// to break deep recursion when delivering frames back-to-back (§5). See
// pkg/scheduler for a concrete implementation.
type Scheduler interface {
	// ScheduleDelayedTask posts fn to run after delay nanoseconds have
	// elapsed, and returns a handle that Cancel can later be called on.
	// RtpSource only ever schedules with delay 0, to yield the calling
	// goroutine rather than to wait for any particular duration.
	ScheduleDelayedTask(delay int64, fn func()) TaskHandle
}

// TaskHandle identifies a task scheduled via Scheduler.ScheduleDelayedTask.
type TaskHandle interface {
	// Cancel prevents the task from running, if it hasn't already.
	Cancel()
}

// RecvStats is notified of every packet RtpSource accepts, and computes the
// packet's presentation time. It is not part of depacketization logic; see
// pkg/recvstats for a concrete RTCP-receiver-report-producing implementation.
type RecvStats interface {
	// NoteIncomingPacket records statistics about one accepted packet, and
	// returns the presentation time to assign it plus whether that time was
	// derived from an RTCP sender report.
	NoteIncomingPacket(
		ssrc uint32,
		seqNo uint16,
		timestamp uint32,
		timestampFrequency uint32,
		usableInJitterCalc bool,
		packetSize int,
	) (presentationTime Timestamp, syncedViaRTCP bool)
}

// SpecialHeaderParser is the payload-format-specific plug-in hook (§4.4). It
// is consulted once per packet, before any use(), with exclusive access to
// the packet. See pkg/h264depacket for a concrete H.264/RFC 6184
// implementation.
type SpecialHeaderParser interface {
	// Process inspects and may skip() past a payload-format-specific header
	// on pkt, and may set beginsFrame/completesFrame on the owning
	// RtpSource. It returns the number of bytes the caller should strip
	// (via BufferedPacket.skip), or ok=false to reject the packet.
	Process(pkt *BufferedPacket, src *RtpSource) (specialHeaderSize int, ok bool)
}

// defaultSpecialHeaderParser is the default SpecialHeaderParser: it strips
// nothing and always succeeds, so payload formats that pack one complete
// frame per packet (the common case in §1) need not supply a hook at all.
type defaultSpecialHeaderParser struct{}

func (defaultSpecialHeaderParser) Process(*BufferedPacket, *RtpSource) (int, bool) {
	return 0, true
}
