package recvstats

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestStatsBeforeData(t *testing.T) {
	rs := &RecvStats{LocalSSRC: 0x65f83afb, Period: 500 * time.Millisecond}
	rs.Start()
	defer rs.Close()

	require.Nil(t, rs.Stats())
}

func TestNoteIncomingPacketFirstPacketHasNoLoss(t *testing.T) {
	rs := &RecvStats{LocalSSRC: 0x65f83afb, Period: 500 * time.Millisecond}
	rs.Start()
	defer rs.Close()

	_, synced := rs.NoteIncomingPacket(1434523, 945, 0xafb45733, 90000, true, 2)
	require.False(t, synced, "no sender report has arrived yet")

	stats := rs.Stats()
	require.NotNil(t, stats)
	require.Equal(t, uint16(945), stats.LastSequenceNumber)
	require.Equal(t, uint64(1), stats.TotalReceived)
	require.Equal(t, uint64(0), stats.TotalLost)
}

func TestNoteIncomingPacketCountsGapAsLoss(t *testing.T) {
	rs := &RecvStats{LocalSSRC: 0x65f83afb, Period: 500 * time.Millisecond}
	rs.Start()
	defer rs.Close()

	rs.NoteIncomingPacket(1434523, 100, 0, 90000, true, 2)
	rs.NoteIncomingPacket(1434523, 104, 0, 90000, true, 2)

	stats := rs.Stats()
	require.Equal(t, uint64(2), stats.TotalReceived)
	require.Equal(t, uint64(3), stats.TotalLost)
}

func TestNoteIncomingPacketDifferentSSRCResetsTracking(t *testing.T) {
	rs := &RecvStats{LocalSSRC: 0x65f83afb, Period: 500 * time.Millisecond}
	rs.Start()
	defer rs.Close()

	rs.NoteIncomingPacket(1434523, 945, 0xafb45733, 90000, true, 2)
	_, synced := rs.NoteIncomingPacket(754623214, 945, 0xafb45733, 90000, true, 2)
	require.False(t, synced)

	stats := rs.Stats()
	require.Equal(t, uint32(754623214), stats.RemoteSSRC)
	require.Equal(t, uint64(0), stats.TotalLost, "a fresh SSRC must not be charged loss against the old one's sequence")
}

func TestPresentationTimeSyncsAfterSenderReport(t *testing.T) {
	rs := &RecvStats{LocalSSRC: 0x65f83afb, Period: 500 * time.Millisecond}
	rs.Start()
	defer rs.Close()

	rs.NoteIncomingPacket(1434523, 100, 1000, 90000, true, 2)

	sr := &rtcp.SenderReport{
		SSRC:        1434523,
		NTPTime:     0x1234567890abcdef,
		RTPTime:     1000,
		PacketCount: 1,
		OctetCount:  2,
	}
	rs.ProcessSenderReport(sr, time.Now())

	_, synced := rs.NoteIncomingPacket(1434523, 101, 1090, 90000, true, 2)
	require.True(t, synced)
}
