package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the two kinds of chat participant.
type Kind string

const (
	KindAdmin  Kind = "ADMIN"
	KindMember Kind = "MEMBER"
)

// ErrUnknownKind is returned by ParseKind for anything but admin or member.
var ErrUnknownKind = errors.New("unknown participant kind")

// ParseKind parses a wire participant kind, ignoring case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindAdmin:
		return KindAdmin, nil
	case KindMember:
		return KindMember, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) String() string {
	return string(k)
}

// Key addresses a participant in the registry.
type Key struct {
	ID   string
	Kind Kind
}

func (k Key) String() string {
	return k.ID + ":" + string(k.Kind)
}

// Participant is an admin or member taking part in a conversation.
type Participant struct {
	ID   string
	Kind Kind
	Name string
}

// Key returns the registry key of p.
func (p Participant) Key() Key {
	return Key{ID: p.ID, Kind: p.Kind}
}

// MessageType tells plain text messages from file attachments.
type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

// ParseMessageType parses a wire message type. Empty means text.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", MessageTypeText:
		return MessageTypeText, nil
	case MessageTypeFile:
		return MessageTypeFile, nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

// Message is one directed chat message. It is immutable once saved, except
// for IsRead which the store flips in bulk.
type Message struct {
	ID        int64
	Sender    Participant
	Receiver  Participant
	Body      string
	Timestamp time.Time
	IsRead    bool
	Type      MessageType
	FileID    *int64
}

// ErrInvalidMessage wraps every validation failure.
var ErrInvalidMessage = errors.New("invalid message")

// Validate checks that both ends are fully identified and that file
// messages reference a file.
func (m *Message) Validate() error {
	switch {
	case m.Sender.ID == "" || m.Sender.Kind == "":
		return fmt.Errorf("%w: sender is not identified", ErrInvalidMessage)
	case m.Receiver.ID == "" || m.Receiver.Kind == "":
		return fmt.Errorf("%w: receiver is not identified", ErrInvalidMessage)
	case m.Type == MessageTypeFile && m.FileID == nil:
		return fmt.Errorf("%w: file message without file id", ErrInvalidMessage)
	}
	return nil
}

// MessageStore persists chat messages.
type MessageStore interface {
	// Save stores m and returns the identifier assigned to it.
	Save(ctx context.Context, m *Message) (int64, error)
}
