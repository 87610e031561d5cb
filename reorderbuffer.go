package rtpdepacket

// ReorderBuffer is an ordered linked list of BufferedPacket, keyed by RTP
// sequence number under the wrap-aware seqNumLT comparator (§4.2). It
// reorders out-of-sequence packets within a bounded time window and signals
// loss when a gap persists past that window.
//
// The list is strictly increasing under seqNumLT and duplicate-free; every
// queued packet has a sequence number >= nextExpectedSeqNo under seqNumLT.
// ReorderBuffer exclusively owns every packet it holds until it is handed
// out via getNextCompleted and released by the caller (§5 "Resource
// ownership"). Grounded on pkg/rtpreceiver/receiver.go's reorder() policy
// (discard stale, discard duplicate, wait for gaps) generalized from a
// fixed circular buffer to a time-gated linked queue — see DESIGN.md.
type ReorderBuffer struct {
	factory *packetFactory

	headPacket *BufferedPacket
	tailPacket *BufferedPacket

	nextExpectedSeqNo   uint16
	haveSeenFirstPacket bool

	thresholdTime int64 // microseconds

	now func() Timestamp
}

// defaultThresholdTimeUsec is the default maximum time to wait at the head
// of the queue for a missing earlier packet (§3).
const defaultThresholdTimeUsec = 100000

// NewReorderBuffer allocates a ReorderBuffer. now supplies the current wall
// clock in (sec, usec) form, used to time out gaps. There is no default:
// now must be non-nil, since GetNextCompleted calls it whenever the head of
// the queue is not the expected packet (RtpSource supplies a real clock).
func NewReorderBuffer(now func() Timestamp) *ReorderBuffer {
	return &ReorderBuffer{
		factory:       newPacketFactory(),
		thresholdTime: defaultThresholdTimeUsec,
		now:           now,
	}
}

// SetThresholdTime adjusts the gap-tolerance window.
func (b *ReorderBuffer) SetThresholdTime(usec int64) {
	b.thresholdTime = usec
}

// ResetHaveSeenFirstPacket forces the next stored packet to re-seed
// nextExpectedSeqNo, used on SSRC change (§4.1 "SSRC discipline").
func (b *ReorderBuffer) ResetHaveSeenFirstPacket() {
	b.haveSeenFirstPacket = false
}

// IsEmpty reports whether the queue holds no packets.
func (b *ReorderBuffer) IsEmpty() bool {
	return b.headPacket == nil
}

// GetFreePacket returns a packet for the caller to fill, from the single
// cached slot if free, else a freshly allocated one.
func (b *ReorderBuffer) GetFreePacket() *BufferedPacket {
	return b.factory.getFreePacket()
}

// FreePacket releases a packet the caller decided not to queue (a drop),
// returning it to the factory.
func (b *ReorderBuffer) FreePacket(p *BufferedPacket) {
	b.factory.freePacket(p)
}

// Reset clears the queue, freeing every packet it holds, and resets
// nextExpectedSeqNo tracking (§5 "Cancellation": "clears the reorder
// buffer (freeing all in-flight packets)"). It must not double-free the
// cached saved packet if it happens to be in the queue.
func (b *ReorderBuffer) Reset() {
	for p := b.headPacket; p != nil; {
		next := p.next
		p.next = nil
		b.factory.freePacket(p)
		p = next
	}
	b.headPacket = nil
	b.tailPacket = nil
	b.haveSeenFirstPacket = false
}

// Store inserts p into the queue by sequence number. It returns false if p
// is stale (precedes nextExpectedSeqNo) or a duplicate of an already-queued
// packet, in which case the caller must free p itself (§4.2 "Insertion
// algorithm").
func (b *ReorderBuffer) Store(p *BufferedPacket) bool {
	if !b.haveSeenFirstPacket {
		b.nextExpectedSeqNo = p.rtpSeqNo
		p.isFirstPacket = true
		b.haveSeenFirstPacket = true
	}

	if seqNumLT(p.rtpSeqNo, b.nextExpectedSeqNo) {
		return false
	}

	if b.headPacket == nil {
		b.headPacket = p
		b.tailPacket = p
		return true
	}

	if seqNumLT(b.tailPacket.rtpSeqNo, p.rtpSeqNo) {
		b.tailPacket.next = p
		b.tailPacket = p
		return true
	}

	if p.rtpSeqNo == b.tailPacket.rtpSeqNo {
		return false
	}

	var prev *BufferedPacket
	for q := b.headPacket; q != nil; q = q.next {
		if q.rtpSeqNo == p.rtpSeqNo {
			return false
		}
		if seqNumLT(p.rtpSeqNo, q.rtpSeqNo) {
			p.next = q
			if prev == nil {
				b.headPacket = p
			} else {
				prev.next = p
			}
			return true
		}
		prev = q
	}

	// unreachable: the tail-append and tail-duplicate checks above cover
	// every case where no q satisfies seqNumLT(p.seqNo, q.seqNo).
	prev.next = p
	b.tailPacket = p
	return true
}

// GetNextCompleted returns the head packet if it is deliverable, along with
// whether loss preceded it, or nil if the consumer must wait for more data
// (§4.2 "Deliverability"). It does not remove the packet from the queue;
// call ReleaseUsedPacket once the consumer is done with it.
func (b *ReorderBuffer) GetNextCompleted() (pkt *BufferedPacket, lossPreceded bool) {
	if b.headPacket == nil {
		return nil, false
	}

	head := b.headPacket

	if head.rtpSeqNo == b.nextExpectedSeqNo {
		return head, head.isFirstPacket
	}

	now := b.now()
	elapsed := (now.Sec-head.timeReceived.Sec)*1000000 + (now.Usec - head.timeReceived.Usec)
	if elapsed > b.thresholdTime {
		b.nextExpectedSeqNo = head.rtpSeqNo
		return head, true
	}

	return nil, false
}

// ReleaseUsedPacket unlinks and frees the head packet, advancing
// nextExpectedSeqNo past it. The caller must only call this when pkt is the
// current head and the consumer is fully done with it (§4.2).
func (b *ReorderBuffer) ReleaseUsedPacket(pkt *BufferedPacket) {
	if pkt != b.headPacket || pkt.rtpSeqNo != b.nextExpectedSeqNo {
		panic("rtpdepacket: ReleaseUsedPacket called out of order")
	}

	b.nextExpectedSeqNo++
	b.headPacket = pkt.next
	if b.headPacket == nil {
		b.tailPacket = nil
	}
	pkt.next = nil

	b.factory.freePacket(pkt)
}
