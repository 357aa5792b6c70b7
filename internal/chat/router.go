package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/omochice/library-chat/pkg/protocol"
)

// ErrSaveFailed is returned by OnMessage when the store rejected a message.
var ErrSaveFailed = errors.New("message could not be saved")

// Router interprets client payloads, persists chat messages and fans them
// out through the registry.
type Router struct {
	registry *Registry
	store    MessageStore
	now      func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClock overrides the clock used to timestamp messages.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// NewRouter creates a Router over registry and store.
func NewRouter(registry *Registry, store MessageStore, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the router delivers through.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Handle decodes one text payload received on conn and dispatches it.
// Malformed and unrecognised payloads are logged and dropped; they never
// affect the connection.
func (r *Router) Handle(ctx context.Context, conn Conn, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Failed to decode payload from %s: %v", conn.RemoteAddr(), err)
		return
	}

	switch p := in.(type) {
	case protocol.Register:
		kind, err := ParseKind(p.UserType)
		if err != nil || p.UserID == "" {
			log.Printf("Ignoring register from %s: invalid participant %q/%q", conn.RemoteAddr(), p.UserID, p.UserType)
			return
		}
		if err := r.OnRegister(Key{ID: p.UserID, Kind: kind}, conn); err != nil {
			log.Printf("Failed to acknowledge register from %s: %v", conn.RemoteAddr(), err)
		}
	case protocol.Send:
		msg, err := messageFromSend(p)
		if err != nil {
			log.Printf("Rejecting message from %s: %v", conn.RemoteAddr(), err)
			r.fail(conn, err.Error())
			return
		}
		if err := r.OnMessage(ctx, conn, msg); err != nil {
			log.Printf("Failed to route message from %s: %v", conn.RemoteAddr(), err)
		}
	case protocol.Unknown:
		log.Printf("Ignoring payload of unknown type %q from %s", p.Type, conn.RemoteAddr())
	}
}

// OnRegister binds key to conn and acknowledges on the same connection.
func (r *Router) OnRegister(key Key, conn Conn) error {
	if prev := r.registry.Register(key, conn); prev != nil {
		log.Printf("Client %s re-registered, superseding %s", key, prev.RemoteAddr())
	}
	log.Printf("Client registered: %s", key)

	data, err := protocol.Encode(protocol.NewRegistered())
	if err != nil {
		return err
	}
	return conn.WriteText(data)
}

// OnMessage timestamps and saves msg, then delivers it to the receiver if
// online and echoes it back on sender. If saving fails nothing is delivered
// and the sender gets a failure payload instead of the echo.
func (r *Router) OnMessage(ctx context.Context, sender Conn, msg Message) error {
	msg.Timestamp = r.now()
	msg.IsRead = false
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if err := msg.Validate(); err != nil {
		r.fail(sender, err.Error())
		return err
	}

	id, err := r.store.Save(ctx, &msg)
	if err != nil {
		r.fail(sender, ErrSaveFailed.Error())
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	msg.ID = id

	data, err := protocol.Encode(deliveryFromMessage(msg))
	if err != nil {
		return err
	}

	if receiver, ok := r.registry.Lookup(msg.Receiver.Key()); ok {
		if err := receiver.WriteText(data); err != nil {
			log.Printf("Failed to deliver message %d to %s: %v", msg.ID, msg.Receiver.Key(), err)
		}
	}

	if err := sender.WriteText(data); err != nil {
		return fmt.Errorf("failed to confirm message %d to sender: %w", msg.ID, err)
	}
	return nil
}

// Disconnect forgets every registration made on conn.
func (r *Router) Disconnect(conn Conn) {
	for _, key := range r.registry.RemoveByConnection(conn) {
		log.Printf("Client disconnected: %s", key)
	}
}

func (r *Router) fail(conn Conn, reason string) {
	data, err := protocol.Encode(protocol.NewFailure(reason))
	if err != nil {
		log.Printf("Failed to encode failure payload: %v", err)
		return
	}
	if err := conn.WriteText(data); err != nil {
		log.Printf("Failed to send failure payload to %s: %v", conn.RemoteAddr(), err)
	}
}

func messageFromSend(s protocol.Send) (Message, error) {
	senderKind, err := ParseKind(s.SenderType)
	if err != nil {
		return Message{}, fmt.Errorf("%w: sender: %v", ErrInvalidMessage, err)
	}
	receiverKind, err := ParseKind(s.ReceiverType)
	if err != nil {
		return Message{}, fmt.Errorf("%w: receiver: %v", ErrInvalidMessage, err)
	}
	typ, err := ParseMessageType(s.MessageType)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return Message{
		Sender:   Participant{ID: s.SenderID, Kind: senderKind, Name: s.SenderName},
		Receiver: Participant{ID: s.ReceiverID, Kind: receiverKind, Name: s.ReceiverName},
		Body:     s.Message,
		Type:     typ,
		FileID:   s.FileID,
	}, nil
}

func deliveryFromMessage(m Message) protocol.Delivery {
	return protocol.Delivery{
		Type:         protocol.TypeMessage,
		ID:           m.ID,
		SenderType:   m.Sender.Kind.String(),
		SenderID:     m.Sender.ID,
		SenderName:   m.Sender.Name,
		ReceiverType: m.Receiver.Kind.String(),
		ReceiverID:   m.Receiver.ID,
		ReceiverName: m.Receiver.Name,
		Message:      m.Body,
		Timestamp:    m.Timestamp.UTC().Format(time.RFC3339Nano),
		IsRead:       m.IsRead,
		MessageType:  string(m.Type),
		FileID:       m.FileID,
	}
}
