// Package client provides a WebSocket client for the chat server.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/library-chat/internal/chat"
	"github.com/omochice/library-chat/pkg/protocol"
)

// ErrNotConnected is returned when sending before Connect or after
// Disconnect.
var ErrNotConnected = errors.New("not connected to server")

// Client represents a chat participant connected over WebSocket.
type Client struct {
	address string
	self    chat.Participant

	mu   sync.RWMutex
	conn net.Conn
	r    io.Reader
	br   *bufio.Reader
	// wmu serializes whole frames written by senders and by the receive
	// loop answering control frames.
	wmu sync.Mutex

	messages chan protocol.Outbound
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Client for self that will dial address, a ws:// URL.
func New(address string, self chat.Participant) *Client {
	return &Client{
		address:  address,
		self:     self,
		messages: make(chan protocol.Outbound, 10),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts receiving payloads.
func (c *Client) Connect(ctx context.Context) error {
	conn, br, _, err := ws.DefaultDialer.Dial(ctx, c.address)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	var r io.Reader = conn
	if br != nil {
		// Frames sent right after the handshake are already buffered.
		r = io.MultiReader(br, conn)
	}

	c.mu.Lock()
	c.conn = conn
	c.br = br
	c.r = r
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receive()

	return nil
}

// Disconnect sends a close frame and closes the connection.
func (c *Client) Disconnect() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	c.mu.Lock()
	if c.conn != nil {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		c.wmu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		c.wmu.Unlock()
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	if c.br != nil {
		ws.PutReader(c.br)
		c.br = nil
	}
	c.mu.Unlock()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Self returns the participant this client speaks for.
func (c *Client) Self() chat.Participant {
	return c.self
}

// Register binds this connection to the client's participant on the server.
func (c *Client) Register() error {
	return c.send(protocol.Register{
		UserID:   c.self.ID,
		UserType: c.self.Kind.String(),
	})
}

// SendMessage sends a text message to receiver.
func (c *Client) SendMessage(receiver chat.Participant, body string) error {
	return c.send(protocol.Send{
		SenderType:   c.self.Kind.String(),
		SenderID:     c.self.ID,
		SenderName:   c.self.Name,
		ReceiverType: receiver.Kind.String(),
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.Name,
		Message:      body,
		MessageType:  string(chat.MessageTypeText),
	})
}

// SendFile announces an uploaded file to receiver.
func (c *Client) SendFile(receiver chat.Participant, name string, fileID int64) error {
	return c.send(protocol.Send{
		SenderType:   c.self.Kind.String(),
		SenderID:     c.self.ID,
		SenderName:   c.self.Name,
		ReceiverType: receiver.Kind.String(),
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.Name,
		Message:      name,
		MessageType:  string(chat.MessageTypeFile),
		FileID:       &fileID,
	})
}

// Messages returns the channel of payloads received from the server. It is
// closed when the connection ends.
func (c *Client) Messages() <-chan protocol.Outbound {
	return c.messages
}

// send writes payload as one masked text frame.
func (c *Client) send(payload protocol.Inbound) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wsutil.WriteClientText(conn, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) receive() {
	defer c.wg.Done()
	defer close(c.messages)

	c.mu.RLock()
	conn, r := c.conn, c.r
	c.mu.RUnlock()

	for {
		msgs, err := wsutil.ReadServerMessage(r, nil)
		if err != nil {
			c.logReadError(err)
			return
		}

		for _, m := range msgs {
			if m.OpCode.IsControl() {
				c.wmu.Lock()
				err := wsutil.HandleServerControlMessage(conn, m)
				c.wmu.Unlock()
				if err != nil {
					c.logReadError(err)
					return
				}
				continue
			}
			if m.OpCode != ws.OpText {
				continue
			}

			msg, err := protocol.DecodeOutbound(m.Payload)
			if err != nil {
				log.Printf("Failed to decode message: %v", err)
				continue
			}

			select {
			case c.messages <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) logReadError(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return
	}
	log.Printf("Error reading from server: %v", err)
}
