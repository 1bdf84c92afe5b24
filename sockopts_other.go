//go:build !linux

package webcore

import (
	"syscall"
	"time"
)

// Socket-option tuning beyond Go's own defaults is only wired up for
// Linux (§4.1 names the listening-device option as "Linux only"); other
// platforms get working but untuned sockets.

func setReuseAddr(rawConn syscall.RawConn) error { return nil }
func setV6Only(rawConn syscall.RawConn) error     { return nil }
func setSocketTimeout(rawConn syscall.RawConn, d time.Duration) error {
	return nil
}
