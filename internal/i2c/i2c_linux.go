//go:build linux

package i2c

import (
	"errors"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// I2C_RDWR ioctl and its message layout from <linux/i2c-dev.h>.
const (
	ioctlRdwr = 0x0707
	flagRead  = 0x0001
)

type rdwrMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Bus{path: path, f: f, xfer: rdwr}, nil
}

func rdwr(f *os.File, addr uint16, w, r []byte) error {
	var msgs [2]rdwrMsg
	n := 0
	if len(w) > 0 {
		msgs[n] = rdwrMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = rdwrMsg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	data := rdwrIoctlData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return errno
	}
	return nil
}

func transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EREMOTEIO) || errors.Is(err, unix.ETIMEDOUT)
}
