//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package pollnet

import "github.com/ooni/maybetls/model"

const supported = false

func sysRead(fd uintptr, b []byte) (int, error) {
	return 0, ErrUnsupported
}

func sysWrite(fd uintptr, b []byte) (int, error) {
	return 0, ErrUnsupported
}

func sysPoll(fd uintptr, interest model.Interest) (bool, error) {
	return false, ErrUnsupported
}

func isEAGAIN(err error) bool {
	return false
}
