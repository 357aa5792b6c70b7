package server

import "time"

// event reports readiness of one descriptor.
type event struct {
	fd       int
	readable bool
	writable bool
}

// poller is the OS readiness notifier the loop blocks on. Every registered
// descriptor is watched for reads; write interest is toggled while a
// connection has unsent bytes.
type poller interface {
	add(fd int) error
	setWrite(fd int, on bool) error
	remove(fd int) error
	// wait blocks for at most timeout. The returned slice is reused by the
	// next call.
	wait(timeout time.Duration) ([]event, error)
	close() error
}
