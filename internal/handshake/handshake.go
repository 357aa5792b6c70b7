// Package handshake performs the server side of the RFC 6455 opening
// handshake on bytes buffered from a freshly accepted connection.
package handshake

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"

	"github.com/gobwas/httphead"
)

// GUID is appended to the client nonce before hashing.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxRequestSize bounds how many bytes may be buffered while waiting for the
// end of the request headers.
const MaxRequestSize = 8 * 1024

var (
	// ErrIncomplete means the request headers have not fully arrived yet.
	ErrIncomplete = errors.New("handshake: incomplete request")
	// ErrNotHTTP means the connection did not open with a GET request line.
	ErrNotHTTP = errors.New("handshake: not an HTTP GET request")
	// ErrMalformed means the request line could not be parsed.
	ErrMalformed = errors.New("handshake: malformed request line")
	// ErrMissingKey means no Sec-WebSocket-Key header was sent.
	ErrMissingKey = errors.New("handshake: missing Sec-WebSocket-Key header")
	// ErrTooLarge means the headers exceeded MaxRequestSize.
	ErrTooLarge = errors.New("handshake: request headers too large")
)

var (
	methodGet   = []byte("GET ")
	crlf        = []byte("\r\n")
	headerEnd   = []byte("\r\n\r\n")
	headerKey   = []byte("Sec-WebSocket-Key")
	responseFmt = "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: "
)

// Result is a successfully negotiated handshake.
type Result struct {
	// URI is the request target, e.g. "/" or "/chat".
	URI string
	// Key is the client nonce.
	Key string
	// Accept is the derived Sec-WebSocket-Accept value.
	Accept string
	// Response is the complete 101 response to write back.
	Response []byte
	// Consumed is the number of request bytes, including the blank line.
	// Bytes after it already belong to the frame stream.
	Consumed int
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client nonce.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Negotiate inspects the bytes read so far on a new connection. It returns
// ErrIncomplete until the blank line ending the headers has been buffered;
// every other error is fatal for the connection.
func Negotiate(buf []byte) (Result, error) {
	if len(buf) < len(methodGet) {
		if bytes.HasPrefix(methodGet, buf) {
			return Result{}, ErrIncomplete
		}
		return Result{}, ErrNotHTTP
	}
	if !bytes.HasPrefix(buf, methodGet) {
		return Result{}, ErrNotHTTP
	}

	end := bytes.Index(buf, headerEnd)
	if end == -1 {
		if len(buf) > MaxRequestSize {
			return Result{}, ErrTooLarge
		}
		return Result{}, ErrIncomplete
	}
	if end > MaxRequestSize {
		return Result{}, ErrTooLarge
	}

	lines := bytes.Split(buf[:end], crlf)
	req, ok := httphead.ParseRequestLine(lines[0])
	if !ok {
		return Result{}, ErrMalformed
	}

	var key []byte
	for _, line := range lines[1:] {
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			continue
		}
		if bytes.EqualFold(k, headerKey) {
			key = v
			break
		}
	}
	if len(key) == 0 {
		return Result{}, ErrMissingKey
	}

	accept := AcceptKey(string(key))
	resp := make([]byte, 0, len(responseFmt)+len(accept)+4)
	resp = append(resp, responseFmt...)
	resp = append(resp, accept...)
	resp = append(resp, headerEnd...)

	return Result{
		URI:      string(req.URI),
		Key:      string(key),
		Accept:   accept,
		Response: resp,
		Consumed: end + len(headerEnd),
	}, nil
}
