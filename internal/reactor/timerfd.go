package reactor

// timerFd abstracts the single OS timer descriptor each TimerService owns.
// ArmAt schedules the next wake at an absolute deadline (ms); Disarm cancels
// any pending wake; Drain consumes whatever the readiness facility reported
// so the Channel doesn't keep re-firing; Fd returns the descriptor to
// register with the Poller.
type timerFd interface {
	Fd() int
	ArmAt(deadlineMs int64) error
	Disarm() error
	Drain()
	Close() error
}
