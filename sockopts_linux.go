//go:build linux

package webcore

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setReuseAddr sets SO_REUSEADDR on the listening socket (§4.1).
func setReuseAddr(rawConn syscall.RawConn) error {
	var opErr error
	err := rawConn.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

// setV6Only marks the IPv6 listener as v6-only so it does not overlap
// with the IPv4 listener (§4.1).
func setV6Only(rawConn syscall.RawConn) error {
	var opErr error
	err := rawConn.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

// setSocketTimeout sets both read and write kernel timeouts on an
// accepted connection as a backstop behind the per-call deadlines the
// connection worker already manages.
func setSocketTimeout(rawConn syscall.RawConn, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	var opErr error
	err := rawConn.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); opErr != nil {
			return
		}
		opErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	})
	if err != nil {
		return err
	}
	return opErr
}
