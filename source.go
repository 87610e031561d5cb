package rtpdepacket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// errRequestAlreadyPending is returned by GetNextFrame when a previous
// request hasn't yet completed (§4.1: "At most one outstanding request at a
// time; it is an error to call again before afterGetting fires").
var errRequestAlreadyPending = errors.New("rtpdepacket: a frame request is already pending")

// RtpSource is the driver: it parses incoming RTP datagrams, coordinates a
// ReorderBuffer, and delivers complete, in-order payload frames to a
// downstream consumer (§4.1). It is single-threaded and cooperative (§5):
// every method must be called from the same goroutine, except where a
// Scheduler hands work back onto that goroutine.
//
// Grounded on the parse/dispatch shape of clientudpl.go's read path and
// clienttrack.go's readRTPUDP (reorder, then per-packet dispatch,
// OnDecodeError on loss) — see DESIGN.md.
type RtpSource struct {
	// ID identifies this source for diagnostics, so a consumer running
	// many sources concurrently can tell them apart.
	ID uuid.UUID

	// OnDecodeError is called once per packet dropped for a malformed
	// header, a wrong payload type, a stale or duplicate sequence number or
	// a special-header rejection, and once per truncated frame (§7). Packets
	// discarded because an earlier fragment of their frame was lost are not
	// reported. It defaults to a no-op.
	OnDecodeError func(error)

	// AfterGetting is called once a requested frame (or fragment series)
	// is complete. Delivered-frame metadata is available on RtpSource's
	// exported fields at that point.
	AfterGetting func(*RtpSource)

	cfg Config

	netReader           NetReader
	scheduler           Scheduler
	recvStats           RecvStats
	specialHeaderParser SpecialHeaderParser
	now                 func() Timestamp

	buffer *ReorderBuffer

	lastReceivedSSRC uint32
	haveReceivedSSRC bool

	currentPacketBeginsFrame    bool
	currentPacketCompletesFrame bool
	packetLossInFragmentedFrame bool

	to                []byte
	savedTo           []byte
	frameSize         int
	numTruncatedBytes int
	requestPending    bool
	needDelivery      bool

	packetReadInProgress *BufferedPacket
	areDoingNetworkReads bool

	generation  uint64
	pendingTask TaskHandle

	// Delivered-frame metadata, populated just before each AfterGetting
	// call (§6 "Downstream interface").
	FrameSize              int
	NumTruncatedBytes      int
	CurPacketRTPSeqNum     uint16
	CurPacketRTPTimestamp  uint32
	PresentationTime       Timestamp
	SyncedViaRTCP          bool
	CurPacketMarkerBit     bool
}

// NewRtpSource allocates an RtpSource. netReader, scheduler and recvStats
// may be nil for pure-unit-test use (in which case HandleReadable and the
// recursion-breaking schedule path are simply unavailable); specialHeaderParser
// defaults to one that strips nothing and always succeeds (§4.4).
func NewRtpSource(
	cfg Config,
	netReader NetReader,
	scheduler Scheduler,
	recvStats RecvStats,
	specialHeaderParser SpecialHeaderParser,
) *RtpSource {
	cfg.setDefaults()

	if specialHeaderParser == nil {
		specialHeaderParser = defaultSpecialHeaderParser{}
	}

	now := func() Timestamp {
		t := time.Now()
		return Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond()) / 1000}
	}

	s := &RtpSource{
		ID:                           uuid.New(),
		OnDecodeError:                func(error) {},
		AfterGetting:                 func(*RtpSource) {},
		cfg:                          cfg,
		netReader:                    netReader,
		scheduler:                    scheduler,
		recvStats:                    recvStats,
		specialHeaderParser:          specialHeaderParser,
		now:                          now,
		currentPacketBeginsFrame:     true,
		currentPacketCompletesFrame: true,
	}
	s.buffer = NewReorderBuffer(now)
	s.buffer.SetThresholdTime(cfg.ReorderingThresholdTime.Microseconds())

	return s
}

// SetPacketReorderingThresholdTime adjusts the reorder buffer's gap
// tolerance.
func (s *RtpSource) SetPacketReorderingThresholdTime(d time.Duration) {
	s.buffer.SetThresholdTime(d.Microseconds())
}

// SetFrameFlags records whether the packet currently being processed
// begins and/or completes a frame. SpecialHeaderParser implementations
// living outside this package (e.g. pkg/h264depacket) call this from
// Process to report payload-format-specific frame boundaries (§4.4); it is
// the exported counterpart of the currentPacketBeginsFrame/
// currentPacketCompletesFrame fields a same-package parser would set
// directly.
func (s *RtpSource) SetFrameFlags(begins, completes bool) {
	s.currentPacketBeginsFrame = begins
	s.currentPacketCompletesFrame = completes
}

// GetNextFrame requests that the next complete frame be written into to
// (up to len(to) bytes). AfterGetting is invoked once it's ready.
func (s *RtpSource) GetNextFrame(to []byte) error {
	if s.requestPending {
		return errRequestAlreadyPending
	}

	s.requestPending = true
	s.areDoingNetworkReads = true
	s.to = to
	s.savedTo = to
	s.frameSize = 0
	s.numTruncatedBytes = 0
	s.needDelivery = true

	s.deliverLoop()
	return nil
}

// StopGettingFrames synchronously cancels any outstanding request, stops
// reads, clears the reorder buffer, and resets transient frame-assembly
// state (§5 "Cancellation").
func (s *RtpSource) StopGettingFrames() {
	s.generation++

	if s.pendingTask != nil {
		s.pendingTask.Cancel()
		s.pendingTask = nil
	}

	s.areDoingNetworkReads = false
	s.packetReadInProgress = nil
	s.requestPending = false
	s.needDelivery = false
	s.to = nil
	s.savedTo = nil
	s.frameSize = 0
	s.numTruncatedBytes = 0
	s.packetLossInFragmentedFrame = false
	s.currentPacketBeginsFrame = true
	s.currentPacketCompletesFrame = true

	s.buffer.Reset()
}

// deliverLoop drains completed packets for as long as there's an
// outstanding request and data is available (§4.1).
func (s *RtpSource) deliverLoop() {
	for s.needDelivery {
		nextPacket, lossPreceded := s.buffer.GetNextCompleted()
		if nextPacket == nil {
			break
		}
		s.needDelivery = false

		if nextPacket.useCount == 0 {
			specialHeaderSize, ok := s.specialHeaderParser.Process(nextPacket, s)
			if !ok {
				s.OnDecodeError(fmt.Errorf("rtpdepacket: special header parser rejected packet %d", nextPacket.rtpSeqNo))
				s.buffer.ReleaseUsedPacket(nextPacket)
				s.needDelivery = true
				continue
			}
			nextPacket.skip(specialHeaderSize)
		}

		if s.currentPacketBeginsFrame {
			if lossPreceded || s.packetLossInFragmentedFrame {
				s.to = s.savedTo
				s.frameSize = 0
			}
			s.packetLossInFragmentedFrame = false
		} else if lossPreceded {
			s.packetLossInFragmentedFrame = true
		}

		if s.packetLossInFragmentedFrame {
			s.buffer.ReleaseUsedPacket(nextPacket)
			s.needDelivery = true
			break
		}

		bytesUsed, bytesTruncated := nextPacket.use(s.to)
		s.frameSize += bytesUsed
		s.numTruncatedBytes += bytesTruncated
		if bytesTruncated > 0 {
			s.OnDecodeError(fmt.Errorf("rtpdepacket: frame truncated by %d bytes", bytesTruncated))
		}

		seqNo := nextPacket.rtpSeqNo
		ts := nextPacket.rtpTimestamp
		pts := nextPacket.presentationTime
		synced := nextPacket.syncedViaRTCP
		marker := nextPacket.markerBit

		if !nextPacket.hasUsableData() {
			s.buffer.ReleaseUsedPacket(nextPacket)
		}

		if s.currentPacketCompletesFrame {
			s.requestPending = false
			s.FrameSize = s.frameSize
			s.NumTruncatedBytes = s.numTruncatedBytes
			s.CurPacketRTPSeqNum = seqNo
			s.CurPacketRTPTimestamp = ts
			s.PresentationTime = pts
			s.SyncedViaRTCP = synced
			s.CurPacketMarkerBit = marker

			if s.buffer.IsEmpty() {
				s.AfterGetting(s)
			} else {
				s.scheduleAfterGetting()
			}
		} else {
			s.to = s.to[bytesUsed:]
			s.needDelivery = true
		}
	}
}

// scheduleAfterGetting posts a zero-delay task to call AfterGetting, so that
// delivering many back-to-back completed packets doesn't recurse through
// the deliver loop (§5 "recursion breaker"). The task checks currency
// against generation so a StopGettingFrames call in between makes it a
// no-op, per §5 "Cancellation".
func (s *RtpSource) scheduleAfterGetting() {
	if s.scheduler == nil {
		// no recursion breaker available (unit-test construction): call
		// directly, at the cost of the bounded-recursion guarantee.
		s.AfterGetting(s)
		return
	}

	gen := s.generation
	s.pendingTask = s.scheduler.ScheduleDelayedTask(0, func() {
		if s.generation != gen {
			return
		}
		s.pendingTask = nil
		s.AfterGetting(s)
	})
}

// HandleReadable is invoked by the I/O runtime when the RTP socket becomes
// readable (§4.1 "Read handler"). It reads nothing until GetNextFrame has
// been called, and nothing again after StopGettingFrames until the next
// GetNextFrame.
func (s *RtpSource) HandleReadable() {
	if !s.areDoingNetworkReads {
		return
	}

	var pkt *BufferedPacket
	resuming := false

	if s.packetReadInProgress != nil {
		pkt = s.packetReadInProgress
		resuming = true
	} else {
		pkt = s.buffer.GetFreePacket()
	}

	ok, isPartial := pkt.fillInData(s.netReader, resuming)
	if !ok {
		if !resuming {
			s.buffer.FreePacket(pkt)
		}
		s.packetReadInProgress = nil
		return
	}

	if isPartial {
		s.packetReadInProgress = pkt
		return
	}
	s.packetReadInProgress = nil

	pkt.timeReceived = s.now()

	ssrc, err := s.parseRTPHeader(pkt)
	if err != nil {
		s.OnDecodeError(err)
		s.buffer.FreePacket(pkt)
		return
	}

	if !s.haveReceivedSSRC {
		s.haveReceivedSSRC = true
		s.lastReceivedSSRC = ssrc
	} else if ssrc != s.lastReceivedSSRC {
		s.lastReceivedSSRC = ssrc
		s.buffer.ResetHaveSeenFirstPacket()
	}

	if s.recvStats != nil {
		pts, synced := s.recvStats.NoteIncomingPacket(
			ssrc,
			pkt.rtpSeqNo,
			pkt.rtpTimestamp,
			s.cfg.TimestampFrequencyHz,
			true,
			pkt.tail,
		)
		pkt.presentationTime = pts
		pkt.syncedViaRTCP = synced
	}

	if !s.buffer.Store(pkt) {
		s.OnDecodeError(fmt.Errorf("rtpdepacket: stale or duplicate RTP sequence number %d", pkt.rtpSeqNo))
		s.buffer.FreePacket(pkt)
		return
	}

	s.deliverLoop()
}

// parseRTPHeader validates the fixed RTP header and advances pkt's cursors
// past the CSRC list, header extension, and trailing padding, leaving
// [head, tail) as the bare payload (§4.1, §6 "Wire format"). On any
// validation failure it returns a descriptive error and pkt is untouched
// beyond what was already read.
func (s *RtpSource) parseRTPHeader(pkt *BufferedPacket) (ssrc uint32, err error) {
	data := pkt.buf[:pkt.tail]

	if len(data) < 12 {
		return 0, fmt.Errorf("rtpdepacket: short RTP packet (%d bytes)", len(data))
	}

	word := binary.BigEndian.Uint32(data[0:4])

	if word&0xC0000000 != 0x80000000 {
		return 0, fmt.Errorf("rtpdepacket: unsupported RTP version (word %#08x)", word)
	}

	markerBit := (word>>23)&1 == 1
	payloadType := uint8((word >> 16) & 0x7F)
	seqNo := uint16(word & 0xFFFF)
	timestamp := binary.BigEndian.Uint32(data[4:8])
	ssrcVal := binary.BigEndian.Uint32(data[8:12])

	cc := int((word >> 24) & 0xF)
	offset := 12 + cc*4
	if offset > len(data) {
		return 0, fmt.Errorf("rtpdepacket: CSRC list (%d words) overruns packet", cc)
	}

	if (word>>28)&1 == 1 {
		if offset+4 > len(data) {
			return 0, errors.New("rtpdepacket: truncated RTP header extension")
		}
		extHdr := binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
		extLen := int(extHdr&0xFFFF) * 4
		if offset+extLen > len(data) {
			return 0, errors.New("rtpdepacket: RTP header extension overruns packet")
		}
		offset += extLen
	}

	payloadEnd := len(data)
	if (word>>29)&1 == 1 {
		if payloadEnd <= offset {
			return 0, errors.New("rtpdepacket: truncated RTP padding")
		}
		padLen := int(data[payloadEnd-1])
		if padLen > payloadEnd-offset {
			return 0, fmt.Errorf("rtpdepacket: RTP padding length (%d) overruns payload", padLen)
		}
		payloadEnd -= padLen
	}

	if payloadType != s.cfg.PayloadFormat {
		return 0, fmt.Errorf("rtpdepacket: unexpected RTP payload type %d", payloadType)
	}

	pkt.head = offset
	pkt.tail = payloadEnd
	pkt.rtpSeqNo = seqNo
	pkt.rtpTimestamp = timestamp
	pkt.markerBit = markerBit

	return ssrcVal, nil
}
