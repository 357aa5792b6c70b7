package chat_test

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/omochice/library-chat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	closed     bool
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{remoteAddr: addr}
}

func (m *mockConn) WriteText(payload []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	copied := make([]byte, len(payload))
	copy(copied, payload)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written
}

// decodeWritten decodes the i-th written payload into a generic map.
func (m *mockConn) decodeWritten(i int) (map[string]any, error) {
	written := m.GetWritten()
	if i >= len(written) {
		return nil, errors.New("no such payload")
	}
	var v map[string]any
	if err := json.Unmarshal(written[i], &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
