//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// spliceFileToFd transfers up to count bytes (0 means "until EOF") from
// srcFd at the given offset to dstFd using splice(2) through an
// intermediate pipe, avoiding a user-space copy. It is adapted from the
// teacher's net.Conn-oriented splice helper to operate directly on the raw
// descriptors Connection already owns, since the Poller needs raw fds
// regardless.
func spliceFileToFd(dstFd, srcFd int, offset int64, count int64) (int64, error) {
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		return 0, err
	}
	pr, pw := p[0], p[1]
	defer unix.Close(pr)
	defer unix.Close(pw)

	var transferred int64
	const chunk = 1 << 20
	off := offset
	for count <= 0 || transferred < count {
		toRead := int64(chunk)
		if count > 0 {
			if remaining := count - transferred; remaining < toRead {
				toRead = remaining
			}
		}
		offCopy := off
		n1, err := unix.Splice(srcFd, &offCopy, pw, nil, int(toRead), unix.SPLICE_F_MOVE)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return transferred, err
		}
		if n1 == 0 {
			break
		}
		off += int64(n1)

		writeOff := 0
		for writeOff < n1 {
			n2, err2 := unix.Splice(pr, nil, dstFd, nil, n1-writeOff, unix.SPLICE_F_MOVE)
			if err2 != nil {
				if err2 == unix.EAGAIN || err2 == unix.EINTR {
					continue
				}
				return transferred, err2
			}
			if n2 == 0 {
				break
			}
			writeOff += n2
		}
		transferred += int64(n1)
	}
	return transferred, nil
}
