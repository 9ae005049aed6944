// Package netaddr parses the address forms the server accepts: dotted-quad
// or bracketed-IPv6 host:port, and Unix domain socket paths (abstract when
// the path begins with a NUL byte).
package netaddr

import (
	"fmt"
	"strings"
)

// Network names as accepted by net.Listen / net.Dial.
const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
)

// Parse splits addr into the network and address net.Listen expects.
//
// "0.0.0.0:8888" and "[::1]:21" are TCP; an address beginning with "/" is
// a Unix socket path. A leading NUL marks an abstract Unix socket and is
// preserved verbatim, since abstract names are meaningful only with it.
// Any other address without a "host:port" form is rejected with an error;
// relative Unix socket paths are not recognised.
func Parse(addr string) (network, address string, err error) {
	if addr == "" {
		return "", "", fmt.Errorf("netaddr: empty address")
	}
	if strings.HasPrefix(addr, "\x00") || strings.HasPrefix(addr, "/") {
		return NetworkUnix, addr, nil
	}
	if strings.HasPrefix(addr, "[") {
		if !strings.Contains(addr, "]:") {
			return "", "", fmt.Errorf("netaddr: malformed bracketed address %q", addr)
		}
		return NetworkTCP, addr, nil
	}
	if idx := strings.LastIndex(addr, ":"); idx > 0 && idx < len(addr)-1 {
		return NetworkTCP, addr, nil
	}
	return "", "", fmt.Errorf("netaddr: cannot classify address %q", addr)
}
