package reactor

import (
	"fmt"

	"github.com/nyxsys/reactor/internal/logging"
)

// Poller wraps a readiness-notification facility (epoll, kqueue, or a
// portable fallback) and tracks which Channels are currently registered.
type Poller interface {
	// UpdateChannel attaches or modifies c's interest in the facility and
	// advances c's poller-state tag.
	UpdateChannel(c *Channel) error
	// RemoveChannel detaches c. c.events must already be EventNone.
	RemoveChannel(c *Channel) error
	// HasChannel reports whether c is currently tracked by the facility.
	HasChannel(c *Channel) bool
	// Poll blocks up to timeoutMs waiting for readiness, appending every
	// ready Channel (with its revents populated) to active, and returns
	// the timestamp at which it woke (unix nanoseconds).
	Poll(timeoutMs int, active *[]*Channel) (wakeAt int64, err error)
	// Close releases the poller's own descriptor(s).
	Close() error
}

// newPoller constructs the OS-native poller, falling back to the portable
// implementation on platforms without one wired up.
func newPoller(log logging.Logger) (Poller, error) {
	p, err := newOSPoller(log)
	if err != nil {
		return nil, fmt.Errorf("reactor: create poller: %w", err)
	}
	return p, nil
}

// channelState transitions, shared by every backend:
//
//	New     (not tracked) + update              -> ADD syscall, tag Added
//	Added   + update, empty interest             -> DEL syscall, tag Deleted
//	Added   + update, non-empty interest          -> MOD syscall
//	Deleted + update                              -> re-ADD syscall, tag Added
//	remove(Added)                                 -> DEL syscall
//	remove(Deleted)                                -> no syscall
//
// Both remove cases drop the Channel from the fd map and retag it New.
func nextPollerState(cur pollerState, emptyInterest bool) (op string, next pollerState) {
	switch cur {
	case stateNew:
		return "add", stateAdded
	case stateAdded:
		if emptyInterest {
			return "del", stateDeleted
		}
		return "mod", stateAdded
	case stateDeleted:
		return "add", stateAdded
	default:
		return "add", stateAdded
	}
}
