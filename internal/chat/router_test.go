package chat_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omochice/library-chat/internal/chat"
)

// memStore is an in-memory chat.MessageStore.
type memStore struct {
	mu     sync.Mutex
	saved  []chat.Message
	nextID int64
	err    error
}

func (s *memStore) Save(ctx context.Context, m *chat.Message) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	saved := *m
	saved.ID = s.nextID
	s.saved = append(s.saved, saved)
	return s.nextID, nil
}

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestRouter(store chat.MessageStore) *chat.Router {
	return chat.NewRouter(chat.NewRegistry(), store, chat.WithClock(func() time.Time { return fixedNow }))
}

const helloPayload = `{"type":"message","senderType":"MEMBER","senderId":"M1","senderName":"Mia",` +
	`"receiverType":"ADMIN","receiverId":"A1","receiverName":"Ada","message":"hello"}`

func TestRouter_Register(t *testing.T) {
	router := newTestRouter(&memStore{})
	conn := newMockConn("m1")

	router.Handle(context.Background(), conn, []byte(`{"type":"register","userId":"M1","userType":"MEMBER"}`))

	if got, ok := router.Registry().Lookup(chat.Key{ID: "M1", Kind: chat.KindMember}); !ok || got != conn {
		t.Fatal("register did not bind the connection")
	}

	ack, err := conn.decodeWritten(0)
	if err != nil {
		t.Fatalf("no acknowledgement: %v", err)
	}
	if ack["type"] != "registered" || ack["status"] != "success" {
		t.Errorf("ack = %v", ack)
	}
}

func TestRouter_RegisterInvalidIgnored(t *testing.T) {
	router := newTestRouter(&memStore{})
	conn := newMockConn("x")

	router.Handle(context.Background(), conn, []byte(`{"type":"register","userId":"X","userType":"GUEST"}`))
	router.Handle(context.Background(), conn, []byte(`{"type":"register","userId":"","userType":"ADMIN"}`))

	if router.Registry().Len() != 0 {
		t.Errorf("Len() = %d, want 0", router.Registry().Len())
	}
	if n := len(conn.GetWritten()); n != 0 {
		t.Errorf("wrote %d payloads, want 0", n)
	}
}

func TestRouter_MessageDeliveredAndEchoed(t *testing.T) {
	store := &memStore{}
	router := newTestRouter(store)
	member := newMockConn("m1")
	admin := newMockConn("a1")
	ctx := context.Background()

	router.Handle(ctx, member, []byte(`{"type":"register","userId":"M1","userType":"MEMBER"}`))
	router.Handle(ctx, admin, []byte(`{"type":"register","userId":"A1","userType":"ADMIN"}`))
	router.Handle(ctx, member, []byte(helloPayload))

	if len(store.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(store.saved))
	}
	saved := store.saved[0]
	if !saved.Timestamp.Equal(fixedNow) || saved.IsRead || saved.Type != chat.MessageTypeText {
		t.Errorf("saved message = %+v", saved)
	}

	adminWritten := admin.GetWritten()
	memberWritten := member.GetWritten()
	if len(adminWritten) != 2 || len(memberWritten) != 2 {
		t.Fatalf("admin got %d payloads, member got %d; want 2 each", len(adminWritten), len(memberWritten))
	}
	if !bytes.Equal(adminWritten[1], memberWritten[1]) {
		t.Errorf("delivery and echo differ:\n%s\n%s", adminWritten[1], memberWritten[1])
	}

	got, err := admin.decodeWritten(1)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type":         "message",
		"id":           float64(1),
		"senderType":   "MEMBER",
		"senderId":     "M1",
		"senderName":   "Mia",
		"receiverType": "ADMIN",
		"receiverId":   "A1",
		"receiverName": "Ada",
		"message":      "hello",
		"timestamp":    "2025-03-04T05:06:07Z",
		"isRead":       false,
		"messageType":  "TEXT",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestRouter_ReceiverOffline(t *testing.T) {
	store := &memStore{}
	router := newTestRouter(store)
	member := newMockConn("m1")

	router.Handle(context.Background(), member, []byte(helloPayload))

	if len(store.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(store.saved))
	}
	echo, err := member.decodeWritten(0)
	if err != nil {
		t.Fatalf("sender got no echo: %v", err)
	}
	if echo["type"] != "message" || echo["message"] != "hello" {
		t.Errorf("echo = %v", echo)
	}
}

func TestRouter_SaveFailure(t *testing.T) {
	router := newTestRouter(&memStore{err: errors.New("disk full")})
	member := newMockConn("m1")
	admin := newMockConn("a1")
	ctx := context.Background()

	router.OnRegister(chat.Key{ID: "A1", Kind: chat.KindAdmin}, admin)

	msg := chat.Message{
		Sender:   chat.Participant{ID: "M1", Kind: chat.KindMember, Name: "Mia"},
		Receiver: chat.Participant{ID: "A1", Kind: chat.KindAdmin, Name: "Ada"},
		Body:     "hello",
	}
	err := router.OnMessage(ctx, member, msg)
	if !errors.Is(err, chat.ErrSaveFailed) {
		t.Fatalf("OnMessage() error = %v, want ErrSaveFailed", err)
	}

	if n := len(admin.GetWritten()); n != 1 {
		t.Errorf("receiver got %d payloads, want only the register ack", n)
	}
	got, err := member.decodeWritten(0)
	if err != nil {
		t.Fatalf("sender got no failure payload: %v", err)
	}
	if got["type"] != "error" || got["status"] != "failed" {
		t.Errorf("failure payload = %v", got)
	}
	if len(member.GetWritten()) != 1 {
		t.Errorf("sender got %d payloads, want 1", len(member.GetWritten()))
	}
}

func TestRouter_InvalidMessageRejected(t *testing.T) {
	store := &memStore{}
	router := newTestRouter(store)
	member := newMockConn("m1")

	router.Handle(context.Background(), member, []byte(
		`{"type":"message","senderType":"MEMBER","senderId":"M1","receiverType":"ROBOT","receiverId":"R1","message":"hi"}`))
	router.Handle(context.Background(), member, []byte(
		`{"type":"message","senderType":"MEMBER","senderId":"","receiverType":"ADMIN","receiverId":"A1","message":"hi"}`))

	if len(store.saved) != 0 {
		t.Errorf("saved %d messages, want 0", len(store.saved))
	}
	written := member.GetWritten()
	if len(written) != 2 {
		t.Fatalf("sender got %d payloads, want 2 failures", len(written))
	}
	for i := range written {
		got, _ := member.decodeWritten(i)
		if got["type"] != "error" {
			t.Errorf("payload %d = %v, want error", i, got)
		}
	}
}

func TestRouter_FileMessage(t *testing.T) {
	store := &memStore{}
	router := newTestRouter(store)
	admin := newMockConn("a1")

	router.Handle(context.Background(), admin, []byte(
		`{"type":"message","senderType":"ADMIN","senderId":"A1","senderName":"Ada",`+
			`"receiverType":"MEMBER","receiverId":"M1","receiverName":"Mia","message":"fines.pdf",`+
			`"messageType":"FILE","fileId":42}`))

	if len(store.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(store.saved))
	}
	if saved := store.saved[0]; saved.Type != chat.MessageTypeFile || saved.FileID == nil || *saved.FileID != 42 {
		t.Errorf("saved = %+v", saved)
	}
	echo, _ := admin.decodeWritten(0)
	if echo["fileId"] != float64(42) || echo["messageType"] != "FILE" {
		t.Errorf("echo = %v", echo)
	}
}

func TestRouter_IgnoresUnknownAndMalformed(t *testing.T) {
	store := &memStore{}
	router := newTestRouter(store)
	conn := newMockConn("c")

	router.Handle(context.Background(), conn, []byte(`{"type":"typing"}`))
	router.Handle(context.Background(), conn, []byte(`not json`))

	if len(store.saved) != 0 || len(conn.GetWritten()) != 0 || conn.closed {
		t.Error("unknown or malformed payloads must be ignored")
	}
}

func TestRouter_DeliveryFailureStillEchoes(t *testing.T) {
	router := newTestRouter(&memStore{})
	member := newMockConn("m1")
	admin := newMockConn("a1")
	admin.writeErr = errors.New("broken pipe")

	router.Registry().Register(chat.Key{ID: "A1", Kind: chat.KindAdmin}, admin)
	router.Handle(context.Background(), member, []byte(helloPayload))

	if n := len(member.GetWritten()); n != 1 {
		t.Errorf("sender got %d payloads, want echo", n)
	}
}

func TestRouter_Disconnect(t *testing.T) {
	router := newTestRouter(&memStore{})
	conn := newMockConn("m1")

	router.OnRegister(chat.Key{ID: "M1", Kind: chat.KindMember}, conn)
	router.Disconnect(conn)

	if router.Registry().Len() != 0 {
		t.Errorf("Len() = %d after disconnect, want 0", router.Registry().Len())
	}
}
