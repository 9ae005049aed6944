package reactor

import "golang.org/x/sys/unix"

// newWakeupPipe creates the non-blocking descriptor pair any thread may
// write to in order to wake a loop blocked in Poll. Framed identically to
// the OS timer descriptor: writes of exactly 8 bytes.
func newWakeupPipe() (r, w int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func writeWakeup(w int, b []byte) error {
	_, err := unix.Write(w, b)
	return err
}

func drainWakeup(r int) {
	var buf [64]byte
	for {
		n, err := unix.Read(r, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func closeWakeupPipe(r, w int) {
	_ = unix.Close(r)
	_ = unix.Close(w)
}
