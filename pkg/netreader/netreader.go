// Package netreader implements an rtpdepacket.NetReader over a UDP socket,
// with optional multicast group membership.
package netreader

import (
	"fmt"
	"net"

	"github.com/go-rtp/rtpdepacket/pkg/multicast"
	"github.com/go-rtp/rtpdepacket/pkg/readbuffer"
)

// NetReader is a concrete rtpdepacket.NetReader reading RTP datagrams off a
// UDP socket. Adapted from client_udp_listener.go's initialize/run: socket
// creation (direct or via pkg/multicast for group membership),
// setAndVerifyReadBufferSize, and the ReadFrom loop — minus the RTSP
// session's peer-address filtering (readIP/readPort/AnyPortEnable), which
// is session-layer bookkeeping with no place in a receive-only
// depacketization core (see DESIGN.md).
type NetReader struct {
	conn net.PacketConn
}

// New opens a UDP socket bound to address. If multicastInterface is
// non-nil, address is joined as a multicast group on that interface instead
// of being bound directly.
func New(address string, multicastInterface *net.Interface) (*NetReader, error) {
	var conn net.PacketConn

	if multicastInterface != nil {
		c, err := multicast.NewSingleConn(multicastInterface, address, net.ListenPacket)
		if err != nil {
			return nil, err
		}
		conn = c
	} else {
		pc, err := net.ListenPacket("udp", address)
		if err != nil {
			return nil, err
		}
		conn = pc
	}

	return &NetReader{conn: conn}, nil
}

// SetReadBufferSize requests a kernel receive-buffer size and, where
// possible, verifies the kernel actually granted it, per
// setAndVerifyReadBufferSize in client_udp_listener_unix.go/_windows.go,
// generalized across operating systems via pkg/readbuffer. A directly
// opened UDP socket exposes SyscallConn, so pkg/readbuffer's set-then-verify
// path applies; a pkg/multicast connection only exposes its own
// (unverified) SetReadBuffer, the same way client_udp_listener.go's
// multicast.Conn does, so that is used instead.
func (r *NetReader) SetReadBufferSize(bytes int) error {
	if pc, ok := r.conn.(readbuffer.PacketConn); ok {
		if err := readbuffer.SetReadBuffer(pc, bytes); err != nil {
			return fmt.Errorf("rtpdepacket/netreader: %w", err)
		}
		return nil
	}

	if sb, ok := r.conn.(interface{ SetReadBuffer(int) error }); ok {
		if err := sb.SetReadBuffer(bytes); err != nil {
			return fmt.Errorf("rtpdepacket/netreader: %w", err)
		}
		return nil
	}

	return fmt.Errorf("rtpdepacket/netreader: connection %T does not support setting a read buffer size", r.conn)
}

// LocalAddr returns the socket's local address.
func (r *NetReader) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close closes the underlying socket.
func (r *NetReader) Close() error {
	return r.conn.Close()
}

// HandleRead implements rtpdepacket.NetReader. UDP never delivers a
// datagram across more than one read, so isPartial is always false; ok is
// false only on an unrecoverable socket error.
func (r *NetReader) HandleRead(buf []byte) (n int, from net.Addr, isPartial bool, ok bool) {
	read, addr, err := r.conn.ReadFrom(buf)
	if err != nil {
		return 0, nil, false, false
	}
	return read, addr, false, true
}
