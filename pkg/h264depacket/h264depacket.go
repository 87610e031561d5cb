// Package h264depacket implements an rtpdepacket.SpecialHeaderParser for
// H.264/RFC 6184: FU-A fragmentation and STAP-A aggregation.
package h264depacket

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/go-rtp/rtpdepacket"
)

// Parser is a concrete rtpdepacket.SpecialHeaderParser for H.264. A frame,
// in this engine's sense, is one NAL unit: FU-A fragments of a NALU arrive
// in several packets, and the core's
// currentPacketBeginsFrame/currentPacketCompletesFrame bookkeeping stitches
// them back together into the single frame of one GetNextFrame request
// (§4.1, §4.4); STAP-A aggregates are unpacked into several
// one-NALU frames out of a single packet via BufferedPacket's frame
// boundary hook.
//
// Adapted from pkg/format/rtph264/decoder.go's NALU-type switch and FU-A
// start/end-bit handling, but restructured end to end: that decoder
// allocates and returns whole reassembled NALUs ([][]byte) from already-
// unmarshaled rtp.Packets; this one only ever reports "strip N header
// bytes, frame starts/ends here" against a raw BufferedPacket, and leaves
// the actual byte accumulation to the core's deliver loop (see DESIGN.md).
type Parser struct{}

// New allocates a Parser. H.264 depacketization carries no cross-packet
// state beyond what BufferedPacket/RtpSource already track, so there is
// nothing to initialize.
func New() *Parser {
	return &Parser{}
}

// Process implements rtpdepacket.SpecialHeaderParser.
func (p *Parser) Process(pkt *rtpdepacket.BufferedPacket, src *rtpdepacket.RtpSource) (int, bool) {
	payload := pkt.PeekPayload()
	if len(payload) < 1 {
		return 0, false
	}

	switch h264.NALUType(payload[0] & 0x1F) {
	case h264.NALUTypeFUA:
		return p.processFUA(pkt, src, payload)

	case h264.NALUTypeSTAPA:
		if len(payload) < 1 {
			return 0, false
		}
		pkt.Skip(1)
		pkt.SetFrameBoundary(stapAFrameBoundary(pkt))
		src.SetFrameFlags(true, true)
		return 0, true

	case h264.NALUTypeSTAPB, h264.NALUTypeMTAP16, h264.NALUTypeMTAP24, h264.NALUTypeFUB:
		// aggregation/fragmentation variants RFC 6184 permits but no
		// deployed RTSP server this decoder has been tested against emits.
		return 0, false

	default:
		src.SetFrameFlags(true, true)
		return 0, true
	}
}

func (p *Parser) processFUA(pkt *rtpdepacket.BufferedPacket, src *rtpdepacket.RtpSource, payload []byte) (int, bool) {
	if len(payload) < 2 {
		return 0, false
	}

	start := payload[1]>>7 == 1
	end := (payload[1]>>6)&0x01 == 1

	if start && end {
		return 0, false
	}

	if start {
		// reconstruct the original NALU header in place: byte 0 (FU
		// indicator) is discarded, byte 1's low 5 bits (original NALU
		// type) combine with byte 0's NRI to become the header byte that
		// use() will copy as the first byte of the frame.
		nri := (payload[0] >> 5) & 0x03
		origType := payload[1] & 0x1F
		payload[1] = (nri << 5) | origType
		pkt.Skip(1)
	} else {
		pkt.Skip(2)
	}

	src.SetFrameFlags(start, end)
	return 0, true
}

// stapAFrameBoundary is a rtpdepacket.BufferedPacket frame-boundary
// function for STAP-A aggregates: each enclosed NALU is prefixed by a
// 2-byte big-endian length. It advances past that prefix itself (via
// pkt.Skip) before returning, so the frameStart the core reads immediately
// afterward lands on the NALU rather than its length prefix — relies on
// BufferedPacket reading p.head only after this callback returns.
func stapAFrameBoundary(pkt *rtpdepacket.BufferedPacket) func(data []byte) (int, int64) {
	return func(data []byte) (int, int64) {
		if len(data) < 2 {
			pkt.Skip(len(data))
			return 0, 0
		}

		size := int(data[0])<<8 | int(data[1])
		pkt.Skip(2)

		if size > len(data)-2 {
			size = len(data) - 2
		}

		return size, 0
	}
}
