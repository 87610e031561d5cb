package rtpdepacket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNetReader struct {
	chunks [][]byte
	cur    int
	ok     bool
}

func (f *fakeNetReader) HandleRead(buf []byte) (int, net.Addr, bool, bool) {
	if f.cur >= len(f.chunks) {
		return 0, nil, false, false
	}
	chunk := f.chunks[f.cur]
	f.cur++
	n := copy(buf, chunk)
	isPartial := f.cur < len(f.chunks)
	return n, nil, isPartial, true
}

func TestBufferedPacketFillInData(t *testing.T) {
	nr := &fakeNetReader{chunks: [][]byte{[]byte("hello")}}
	p := newBufferedPacket()

	ok, partial := p.fillInData(nr, false)
	require.True(t, ok)
	require.False(t, partial)
	require.Equal(t, 5, p.tail)
	require.Equal(t, 0, p.head)
}

func TestBufferedPacketFillInDataPartial(t *testing.T) {
	nr := &fakeNetReader{chunks: [][]byte{[]byte("he"), []byte("llo")}}
	p := newBufferedPacket()

	ok, partial := p.fillInData(nr, false)
	require.True(t, ok)
	require.True(t, partial)
	require.Equal(t, 2, p.tail)

	ok, partial = p.fillInData(nr, true)
	require.True(t, ok)
	require.False(t, partial)
	require.Equal(t, 5, p.tail)
	require.Equal(t, []byte("hello"), p.buf[:5])
}

func TestBufferedPacketSkipAndRemovePadding(t *testing.T) {
	p := newBufferedPacket()
	p.tail = 10

	p.skip(4)
	require.Equal(t, 4, p.head)

	p.skip(100)
	require.Equal(t, 10, p.head)

	p.head = 2
	p.tail = 10
	p.removePadding(3)
	require.Equal(t, 7, p.tail)

	p.removePadding(100)
	require.Equal(t, 2, p.tail)
}

func TestBufferedPacketAppendData(t *testing.T) {
	p := newBufferedPacket()
	n := p.appendData([]byte("abc"), 3)
	require.Equal(t, 3, n)
	require.Equal(t, 3, p.tail)
	require.Equal(t, []byte("abc"), p.buf[:3])
}

func TestBufferedPacketUseWholeFrame(t *testing.T) {
	p := newBufferedPacket()
	p.appendData([]byte("hello"), 5)

	to := make([]byte, 10)
	used, truncated := p.use(to)
	require.Equal(t, 5, used)
	require.Equal(t, 0, truncated)
	require.Equal(t, []byte("hello"), to[:5])
	require.False(t, p.hasUsableData())
	require.Equal(t, uint32(1), p.useCount)
}

func TestBufferedPacketUseTruncated(t *testing.T) {
	p := newBufferedPacket()
	p.appendData([]byte("0123456789"), 10)

	to := make([]byte, 4)
	used, truncated := p.use(to)
	require.Equal(t, 4, used)
	require.Equal(t, 6, truncated)
	require.Equal(t, []byte("0123"), to[:4])
	require.False(t, p.hasUsableData(), "the frame is fully consumed even when truncated")
}

func TestBufferedPacketUsePresentationTimeCarry(t *testing.T) {
	p := newBufferedPacket()
	p.appendData([]byte("AB"), 2)
	p.nextEnclosedFrameParameters = func(data []byte) (int, int64) {
		return 1, 700000
	}
	p.presentationTime = Timestamp{Sec: 1, Usec: 900000}

	to := make([]byte, 10)
	p.use(to)

	require.Equal(t, Timestamp{Sec: 2, Usec: 600000}, p.presentationTime)
}
