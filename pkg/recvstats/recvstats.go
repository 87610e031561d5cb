// Package recvstats implements a statistics collaborator for an RtpSource:
// it tracks reception counts and jitter and derives each packet's
// presentation time from RTCP sender reports when available.
package recvstats

import (
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/go-rtp/rtpdepacket"
	"github.com/go-rtp/rtpdepacket/pkg/ntp"
)

// RecvStats is a concrete rtpdepacket.RecvStats. It is in charge of:
//   - counting received and lost packets (gaps in the raw arrival sequence;
//     reordering itself is ReorderBuffer's job, not this collaborator's)
//   - computing jitter (RFC 3550 section 6.4.1)
//   - deriving presentation time from the most recent RTCP sender report,
//     falling back to local receive time until one arrives
//   - generating periodic RTCP receiver reports
//
// Adapted from pkg/rtpreceiver.Receiver: the reordering/dedup machinery
// (Receiver.reorder, its circular buffer) is dropped, since RtpSource's
// ReorderBuffer already owns that; what remains is the loss counting,
// jitter, sender-report bookkeeping and RTCP receiver-report emission.
type RecvStats struct {
	// LocalSSRC identifies this receiver in generated receiver reports.
	LocalSSRC uint32

	// Period is the interval between generated RTCP receiver reports. It
	// must be set before calling Start.
	Period time.Duration

	// TimeNow defaults to time.Now; overridable for tests.
	TimeNow func() time.Time

	// WritePacketRTCP is called with each generated receiver report.
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.Mutex

	firstPacketReceived bool
	remoteSSRC          uint32
	lastSeqNo           uint16
	lastTimestamp       uint32
	lastSystem          time.Time
	timeInitialized     bool

	sequenceNumberCycles            uint16
	totalLost                       uint64
	totalLostSinceReport            uint64
	totalReceived                   uint64
	totalReceivedAndLostSinceReport uint64
	jitter                          float64

	firstSenderReportReceived  bool
	lastSenderReportTimeNTP    uint64
	lastSenderReportTimeRTP    uint32
	lastSenderReportTimeSystem time.Time
	lastSenderReportSSRC       uint32

	terminate chan struct{}
	done      chan struct{}
}

// Start begins periodic receiver-report emission. Period and TimeNow (if
// left nil, time.Now is used) must be set beforehand.
func (rs *RecvStats) Start() {
	if rs.TimeNow == nil {
		rs.TimeNow = time.Now
	}

	rs.terminate = make(chan struct{})
	rs.done = make(chan struct{})

	go rs.run()
}

// Close stops periodic receiver-report emission.
func (rs *RecvStats) Close() {
	close(rs.terminate)
	<-rs.done
}

func (rs *RecvStats) run() {
	defer close(rs.done)

	t := time.NewTicker(rs.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if report := rs.report(); report != nil {
				rs.WritePacketRTCP(report)
			}
		case <-rs.terminate:
			return
		}
	}
}

func (rs *RecvStats) report() rtcp.Packet {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if !rs.firstPacketReceived {
		return nil
	}

	var fractionLost uint8
	if rs.totalReceivedAndLostSinceReport != 0 {
		fractionLost = uint8((min(rs.totalLostSinceReport, 0xFFFFFF) * 256) / rs.totalReceivedAndLostSinceReport)
	}

	rep := &rtcp.ReceiverReport{
		SSRC: rs.LocalSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               rs.remoteSSRC,
				LastSequenceNumber: uint32(rs.sequenceNumberCycles)<<16 | uint32(rs.lastSeqNo),
				FractionLost:       fractionLost,
				TotalLost:          uint32(min(rs.totalLost, 0xFFFFFF)),
				Jitter:             uint32(rs.jitter),
			},
		},
	}

	if rs.firstSenderReportReceived {
		rep.Reports[0].LastSenderReport = uint32(rs.lastSenderReportTimeNTP >> 16)
		rep.Reports[0].Delay = uint32(rs.TimeNow().Sub(rs.lastSenderReportTimeSystem).Seconds() * 65536)
	}

	rs.totalLostSinceReport = 0
	rs.totalReceivedAndLostSinceReport = 0

	return rep
}

// NoteIncomingPacket implements rtpdepacket.RecvStats.
func (rs *RecvStats) NoteIncomingPacket(
	ssrc uint32,
	seqNo uint16,
	timestamp uint32,
	timestampFrequency uint32,
	usableInJitterCalc bool,
	_ int,
) (rtpdepacket.Timestamp, bool) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	system := rs.TimeNow()

	if !rs.firstPacketReceived {
		rs.firstPacketReceived = true
		rs.totalReceived = 1
		rs.totalReceivedAndLostSinceReport = 1
		rs.lastSeqNo = seqNo
		rs.remoteSSRC = ssrc

		if usableInJitterCalc {
			rs.timeInitialized = true
			rs.lastTimestamp = timestamp
			rs.lastSystem = system
		}

		return rs.presentationTimeUnsafe(timestamp, timestampFrequency, system)
	}

	if ssrc != rs.remoteSSRC {
		// a new source resets loss/cycle tracking, matching RtpSource's own
		// SSRC-change handling in the core (ReorderBuffer re-arms the
		// first-packet convention independently).
		rs.remoteSSRC = ssrc
		rs.lastSeqNo = seqNo - 1
		rs.sequenceNumberCycles = 0
	}

	lost := uint64(seqNo - rs.lastSeqNo - 1)
	rs.totalLost += lost
	rs.totalLostSinceReport += lost
	rs.totalReceived++
	rs.totalReceivedAndLostSinceReport += 1 + lost

	diff := int32(seqNo) - int32(rs.lastSeqNo)
	if diff < -0x0FFF {
		rs.sequenceNumberCycles++
	}
	rs.lastSeqNo = seqNo

	if usableInJitterCalc {
		if rs.timeInitialized && timestampFrequency != 0 {
			d := system.Sub(rs.lastSystem).Seconds()*float64(timestampFrequency) -
				(float64(timestamp) - float64(rs.lastTimestamp))
			if d < 0 {
				d = -d
			}
			rs.jitter += (d - rs.jitter) / 16
		}

		rs.timeInitialized = true
		rs.lastTimestamp = timestamp
		rs.lastSystem = system
	}

	return rs.presentationTimeUnsafe(timestamp, timestampFrequency, system)
}

// ProcessSenderReport records an incoming RTCP sender report, anchoring the
// RTP-to-wallclock mapping used by presentationTimeUnsafe.
func (rs *RecvStats) ProcessSenderReport(sr *rtcp.SenderReport, system time.Time) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	rs.firstSenderReportReceived = true
	rs.lastSenderReportTimeNTP = sr.NTPTime
	rs.lastSenderReportTimeRTP = sr.RTPTime
	rs.lastSenderReportTimeSystem = system
	rs.lastSenderReportSSRC = sr.SSRC
}

// presentationTimeUnsafe must be called with mutex held.
func (rs *RecvStats) presentationTimeUnsafe(
	ts uint32,
	timestampFrequency uint32,
	system time.Time,
) (rtpdepacket.Timestamp, bool) {
	if !rs.firstSenderReportReceived || timestampFrequency == 0 {
		return toTimestamp(system), false
	}

	timeDiff := int32(ts - rs.lastSenderReportTimeRTP)
	timeDiffGo := (time.Duration(timeDiff) * time.Second) / time.Duration(timestampFrequency)

	return toTimestamp(ntp.Decode(rs.lastSenderReportTimeNTP).Add(timeDiffGo)), true
}

func toTimestamp(t time.Time) rtpdepacket.Timestamp {
	return rtpdepacket.Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond()) / 1000}
}

// Stats are cumulative reception statistics.
type Stats struct {
	RemoteSSRC         uint32
	LastSequenceNumber uint16
	Jitter             float64
	TotalReceived      uint64
	TotalLost          uint64
}

// Stats returns a snapshot of cumulative reception statistics.
func (rs *RecvStats) Stats() *Stats {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if !rs.firstPacketReceived {
		return nil
	}

	return &Stats{
		RemoteSSRC:         rs.remoteSSRC,
		LastSequenceNumber: rs.lastSeqNo,
		Jitter:             rs.jitter,
		TotalReceived:      rs.totalReceived,
		TotalLost:          rs.totalLost,
	}
}
