// Package protocol defines the JSON payloads carried in text frames between
// chat clients and the server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload type tags used on the wire.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeMessage    = "message"
	TypeError      = "error"
)

// Status values carried by acknowledgements.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Inbound is a payload sent by a client. The concrete type is one of
// Register, Send or Unknown.
type Inbound interface {
	inbound()
}

// Register binds the sending connection to a participant.
type Register struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// Send is a chat message addressed to another participant.
type Send struct {
	SenderType   string `json:"senderType"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	ReceiverType string `json:"receiverType"`
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
	Message      string `json:"message"`
	MessageType  string `json:"messageType,omitempty"`
	FileID       *int64 `json:"fileId,omitempty"`
}

// Unknown is any payload whose type tag is not recognised.
type Unknown struct {
	Type string
}

func (Register) inbound() {}
func (Send) inbound()     {}
func (Unknown) inbound()  {}

// MarshalJSON adds the "register" type tag.
func (r Register) MarshalJSON() ([]byte, error) {
	type fields Register
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeRegister, fields(r)})
}

// MarshalJSON adds the "message" type tag.
func (s Send) MarshalJSON() ([]byte, error) {
	type fields Send
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeMessage, fields(s)})
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a client payload. Unrecognised type tags decode to Unknown
// without error; only malformed JSON is an error.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch env.Type {
	case TypeRegister:
		var r Register
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode register payload: %w", err)
		}
		return r, nil
	case TypeMessage:
		var s Send
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode message payload: %w", err)
		}
		return s, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// Registered acknowledges a register payload.
type Registered struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// NewRegistered returns the success acknowledgement.
func NewRegistered() Registered {
	return Registered{Type: TypeRegistered, Status: StatusSuccess}
}

// Delivery is a persisted chat message, sent to the receiver and echoed to
// the sender.
type Delivery struct {
	Type         string `json:"type"`
	ID           int64  `json:"id"`
	SenderType   string `json:"senderType"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	ReceiverType string `json:"receiverType"`
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	IsRead       bool   `json:"isRead"`
	MessageType  string `json:"messageType"`
	FileID       *int64 `json:"fileId,omitempty"`
}

// Failure tells a sender that their message was not accepted.
type Failure struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// NewFailure returns a failure acknowledgement with the given reason.
func NewFailure(reason string) Failure {
	return Failure{Type: TypeError, Status: StatusFailed, Reason: reason}
}

// Encode marshals an outbound payload.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Outbound is a payload sent by the server. The concrete type is one of
// Registered, Delivery, Failure or Unknown.
type Outbound interface {
	outbound()
}

func (Registered) outbound() {}
func (Delivery) outbound()   {}
func (Failure) outbound()    {}
func (Unknown) outbound()    {}

// DecodeOutbound parses a server payload, as received by a client.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var out Outbound
	switch env.Type {
	case TypeRegistered:
		var r Registered
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode registered payload: %w", err)
		}
		out = r
	case TypeMessage:
		var d Delivery
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to decode message payload: %w", err)
		}
		out = d
	case TypeError:
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode error payload: %w", err)
		}
		out = f
	default:
		out = Unknown{Type: env.Type}
	}
	return out, nil
}
