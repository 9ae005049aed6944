//go:build !linux

package reactor

import "golang.org/x/sys/unix"

// spliceFileToFd is the non-Linux fallback: a plain read/write loop.
// Platforms without splice(2) (darwin, the BSDs, the portable fallback)
// pay a user-space copy per chunk; the contract Connection.SendFile
// exposes is unaffected.
func spliceFileToFd(dstFd, srcFd int, offset int64, count int64) (int64, error) {
	buf := make([]byte, 256*1024)
	var transferred int64
	off := offset
	for count <= 0 || transferred < count {
		want := len(buf)
		if count > 0 {
			if remaining := count - transferred; int64(want) > remaining {
				want = int(remaining)
			}
		}
		n, err := unix.Pread(srcFd, buf[:want], off)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return transferred, err
		}
		if n == 0 {
			break
		}
		off += int64(n)

		written := 0
		for written < n {
			w, err := unix.Write(dstFd, buf[written:n])
			if err != nil {
				if err == unix.EAGAIN || err == unix.EINTR {
					continue
				}
				return transferred, err
			}
			written += w
		}
		transferred += int64(n)
	}
	return transferred, nil
}
