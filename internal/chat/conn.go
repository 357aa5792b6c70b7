// Package chat holds the transport-independent chat core: participants, the
// connection registry and the message router.
package chat

// Conn is the router's view of one open client connection. The transport
// owns the connection; the chat core only writes to it and may ask it to
// close.
type Conn interface {
	// WriteText sends payload as a single text frame. Implementations may
	// queue the bytes and flush them later.
	WriteText(payload []byte) error

	// Close shuts the connection down.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
