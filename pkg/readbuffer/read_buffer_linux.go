//go:build linux

package readbuffer

import (
	"fmt"
	"syscall"
)

// ReadBuffer returns the read buffer size.
func ReadBuffer(pc PacketConn) (int, error) {
	rawConn, err := pc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var v int
	var err2 error

	err = rawConn.Control(func(fd uintptr) {
		v, err2 = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	})
	if err != nil {
		return 0, err
	}
	if err2 != nil {
		return 0, err2
	}

	return v, nil
}

// SetReadBuffer requests a kernel receive-buffer size of v bytes and
// verifies the kernel actually granted it. The Linux kernel doubles
// whatever value is requested via setsockopt(SO_RCVBUF), so the readback is
// checked against 2*v.
func SetReadBuffer(pc PacketConn, v int) error {
	rawConn, err := pc.SyscallConn()
	if err != nil {
		return err
	}

	var err2 error

	err = rawConn.Control(func(fd uintptr) {
		err2 = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, v)
	})
	if err != nil {
		return err
	}
	if err2 != nil {
		return err2
	}

	got, err := ReadBuffer(pc)
	if err != nil {
		return err
	}

	if got != v*2 {
		return fmt.Errorf("unable to set read buffer size to %d - check that net.core.rmem_max is greater than %d", v, v)
	}

	return nil
}
