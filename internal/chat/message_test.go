package chat_test

import (
	"errors"
	"testing"

	"github.com/omochice/library-chat/internal/chat"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    chat.Kind
		wantErr bool
	}{
		{in: "ADMIN", want: chat.KindAdmin},
		{in: "member", want: chat.KindMember},
		{in: " Member ", want: chat.KindMember},
		{in: "", wantErr: true},
		{in: "GUEST", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := chat.ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, chat.ErrUnknownKind) {
				t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseMessageType(t *testing.T) {
	for in, want := range map[string]chat.MessageType{
		"":     chat.MessageTypeText,
		"text": chat.MessageTypeText,
		"FILE": chat.MessageTypeFile,
	} {
		got, err := chat.ParseMessageType(in)
		if err != nil {
			t.Fatalf("ParseMessageType(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMessageType(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := chat.ParseMessageType("VIDEO"); err == nil {
		t.Error("ParseMessageType(VIDEO) expected error")
	}
}

func TestMessage_Validate(t *testing.T) {
	member := chat.Participant{ID: "M1", Kind: chat.KindMember, Name: "Mia"}
	admin := chat.Participant{ID: "A1", Kind: chat.KindAdmin, Name: "Ada"}
	fileID := int64(3)

	tests := []struct {
		name    string
		msg     chat.Message
		wantErr bool
	}{
		{name: "text", msg: chat.Message{Sender: member, Receiver: admin, Type: chat.MessageTypeText}},
		{name: "file", msg: chat.Message{Sender: member, Receiver: admin, Type: chat.MessageTypeFile, FileID: &fileID}},
		{name: "anonymous sender", msg: chat.Message{Receiver: admin}, wantErr: true},
		{name: "receiver without kind", msg: chat.Message{Sender: member, Receiver: chat.Participant{ID: "A1"}}, wantErr: true},
		{name: "file without id", msg: chat.Message{Sender: member, Receiver: admin, Type: chat.MessageTypeFile}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, chat.ErrInvalidMessage) {
				t.Errorf("Validate() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestKey_String(t *testing.T) {
	k := chat.Participant{ID: "M1", Kind: chat.KindMember}.Key()
	if got := k.String(); got != "M1:MEMBER" {
		t.Errorf("Key.String() = %q, want %q", got, "M1:MEMBER")
	}
}
