//go:build windows

package portutils

import (
	"errors"
	"syscall"
)

const (
	wsaeacces     = syscall.Errno(10013) // another socket holds the port exclusively
	wsaeaddrinuse = syscall.Errno(10048)
)

func isAddrInUse(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == wsaeaddrinuse || errno == wsaeacces
}
