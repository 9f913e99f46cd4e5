//go:build linux

package hardware

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// UART is a raw, non-blocking serial port.
type UART struct {
	fd   int
	path string
}

func OpenUART(path string, baud int) (*UART, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read termios for %s: %w", path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %s: %w", path, err)
	}

	return &UART{fd: fd, path: path}, nil
}

func (u *UART) Buffered() (int, error) {
	n, err := unix.IoctlGetInt(u.fd, unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", u.path, err)
	}
	return n, nil
}

func (u *UART) Read(p []byte) (int, error) {
	n, err := unix.Read(u.fd, p)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", u.path, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (u *UART) Close() error {
	return unix.Close(u.fd)
}
