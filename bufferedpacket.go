package rtpdepacket

// BufferedPacket is a fixed-capacity byte buffer with two cursors,
// head <= tail <= capacity: [0, head) is consumed, [head, tail) is usable
// payload, [tail, capacity) is free (§3). It also carries the RTP metadata
// needed to serve frames to a downstream consumer.
//
// BufferedPacket is obtained from a PacketFactory, filled by a NetReader,
// parsed and annotated by RtpSource, queued or freed by ReorderBuffer, and
// released back to the factory once fully consumed. It is never safe for
// concurrent use; the whole engine is single-threaded (§5).
type BufferedPacket struct {
	buf  []byte
	head int
	tail int

	rtpSeqNo         uint16
	rtpTimestamp     uint32
	markerBit        bool
	syncedViaRTCP    bool
	presentationTime Timestamp
	timeReceived     Timestamp

	useCount      uint32
	isFirstPacket bool

	// next links this packet into a ReorderBuffer's queue.
	next *BufferedPacket

	// nextEnclosedFrameParameters overrides the default "whole remaining
	// payload is one frame" behavior (§4.3). Payload-format-specific
	// SpecialHeaderParser implementations may set this.
	nextEnclosedFrameParameters func(data []byte) (frameSize int, frameDurationUsec int64)
}

// newBufferedPacket allocates a BufferedPacket with the standard capacity.
func newBufferedPacket() *BufferedPacket {
	return &BufferedPacket{
		buf: make([]byte, MaxPacketSize),
	}
}

// reset clears the cursors, useCount, the first-packet flag, the queue link
// and the frame-boundary hook, ready for the packet to be filled again. The
// RTP metadata fields (sequence number, timestamps, marker, sync flag) keep
// their previous values until the next header parse or RecvStats call
// overwrites them. It is called by fillInData when not resuming a partial
// read.
func (p *BufferedPacket) reset() {
	p.head = 0
	p.tail = 0
	p.useCount = 0
	p.isFirstPacket = false
	p.next = nil
	p.nextEnclosedFrameParameters = nil
}

// fillInData requests that netReader fill the free region of the buffer
// ([tail, capacity)). When resuming is false (no partial read in progress
// for this packet), it first resets cursors and useCount. On a full read it
// advances tail and returns ok=true, isPartial=false. On a partial read the
// caller must retain the packet and call fillInData again with resuming=true
// on the next readability event. On I/O failure it returns ok=false.
func (p *BufferedPacket) fillInData(netReader NetReader, resuming bool) (ok bool, isPartial bool) {
	if !resuming {
		p.reset()
	}

	if p.tail >= len(p.buf) {
		return false, false
	}

	n, _, partial, readOK := netReader.HandleRead(p.buf[p.tail:])
	if !readOK {
		return false, false
	}

	p.tail += n
	return true, partial
}

// skip advances head by n bytes, never past tail.
func (p *BufferedPacket) skip(n int) {
	p.head += n
	if p.head > p.tail {
		p.head = p.tail
	}
}

// removePadding shrinks the usable tail by n bytes (never past head),
// hiding trailing padding bytes from subsequent use() calls.
func (p *BufferedPacket) removePadding(n int) {
	if n > p.tail-p.head {
		n = p.tail - p.head
	}
	p.tail -= n
}

// appendData copies up to min(n, capacity-tail) bytes from src onto the
// tail of the buffer and advances tail. It uses memmove semantics so src
// may safely alias the packet's own backing array.
func (p *BufferedPacket) appendData(src []byte, n int) int {
	room := len(p.buf) - p.tail
	if n > room {
		n = room
	}
	if n <= 0 {
		return 0
	}
	copy(p.buf[p.tail:p.tail+n], src[:n])
	p.tail += n
	return n
}

// hasUsableData reports whether [head, tail) is non-empty.
func (p *BufferedPacket) hasUsableData() bool {
	return p.head < p.tail
}

// PeekPayload returns the packet's current usable payload, [head, tail),
// without consuming it. SpecialHeaderParser implementations use this to
// inspect payload-format-specific framing before deciding how much to skip
// (§4.4).
func (p *BufferedPacket) PeekPayload() []byte {
	return p.buf[p.head:p.tail]
}

// Skip advances head by n bytes, never past tail. SpecialHeaderParser
// implementations call this to strip a format-specific header before use()
// (§4.4); it is the same primitive RtpSource's deliver loop uses for the
// specialHeaderSize Process returns.
func (p *BufferedPacket) Skip(n int) {
	p.skip(n)
}

// HasMoreData reports whether any usable payload remains in the packet.
func (p *BufferedPacket) HasMoreData() bool {
	return p.hasUsableData()
}

// SetFrameBoundary overrides how this packet's remaining payload is split
// into enclosed frames (§4.3 "frame boundary within a packet"). fn receives
// the packet's current usable payload (from PeekPayload) and returns the
// size of the next enclosed frame and its presentation-time duration in
// microseconds. SpecialHeaderParser implementations supply this for
// payload formats that pack more than one frame per packet (e.g. H.264
// STAP-A aggregates).
func (p *BufferedPacket) SetFrameBoundary(fn func(data []byte) (frameSize int, frameDurationUsec int64)) {
	p.nextEnclosedFrameParameters = fn
}

// getNextEnclosedFrameParameters returns the size and duration of the next
// enclosed frame starting at head. The default treats the whole remaining
// payload as one frame with zero duration (§4.3); SpecialHeaderParser
// implementations may override nextEnclosedFrameParameters to advance past
// inline per-frame headers and report a real duration.
func (p *BufferedPacket) getNextEnclosedFrameParameters() (frameStart int, frameSize int, frameDurationUsec int64) {
	data := p.buf[p.head:p.tail]
	if p.nextEnclosedFrameParameters != nil {
		size, dur := p.nextEnclosedFrameParameters(data)
		return p.head, size, dur
	}
	return p.head, len(data), 0
}

// use copies up to len(to) bytes of the next enclosed frame into to. If the
// frame is larger than len(to), bytesTruncated reports the excess and the
// frame is still fully consumed from the packet (§4.3: "truncated bytes are
// still consumed from the packet"). useCount is incremented and
// presentationTime is advanced by the frame's duration, carrying into
// seconds, so the packet always carries the presentation time of the next
// enclosed frame after each use.
func (p *BufferedPacket) use(to []byte) (bytesUsed int, bytesTruncated int) {
	frameStart, frameSize, frameDurationUsec := p.getNextEnclosedFrameParameters()

	n := frameSize
	truncated := 0
	if n > len(to) {
		truncated = n - len(to)
		n = len(to)
	}

	copy(to[:n], p.buf[frameStart:frameStart+n])

	p.head = frameStart + frameSize
	p.useCount++
	p.presentationTime = p.presentationTime.addUsec(frameDurationUsec)

	return n, truncated
}
