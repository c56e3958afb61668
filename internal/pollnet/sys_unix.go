//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pollnet

import (
	"errors"

	"github.com/ooni/maybetls/model"
	"golang.org/x/sys/unix"
)

const supported = true

func sysRead(fd uintptr, b []byte) (int, error) {
	for {
		n, err := unix.Read(int(fd), b)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func sysWrite(fd uintptr, b []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), b)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func sysPoll(fd uintptr, interest model.Interest) (bool, error) {
	events := int16(unix.POLLIN)
	if interest == model.Writable {
		events = unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

func isEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
