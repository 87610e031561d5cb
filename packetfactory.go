package rtpdepacket

// packetFactory hands out BufferedPackets on the hot path with minimal
// allocation: a single preallocated slot, reused when free, with on-demand
// allocation for overflow (§2, §4.2 "free-list discipline"). It generalizes
// multibuffer.MultiBuffer's N-buffer round-robin reuse to N=1 plus an
// allocating fallback, which is what ReorderBuffer's single savedPacket
// slot requires.
type packetFactory struct {
	savedPacket     *BufferedPacket
	savedPacketFree bool
}

func newPacketFactory() *packetFactory {
	return &packetFactory{
		savedPacket:     newBufferedPacket(),
		savedPacketFree: true,
	}
}

// getFreePacket returns the cached saved packet if free, else allocates a
// new one.
func (f *packetFactory) getFreePacket() *BufferedPacket {
	if f.savedPacketFree {
		f.savedPacketFree = false
		return f.savedPacket
	}
	return newBufferedPacket()
}

// freePacket returns p to the free slot if it is the cached saved packet,
// otherwise it is simply dropped (left for the garbage collector) — the
// saved packet is the one lifetime exception the factory tracks (§5
// "Resource ownership").
func (f *packetFactory) freePacket(p *BufferedPacket) {
	if p == f.savedPacket {
		f.savedPacketFree = true
	}
}
