package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/omochice/library-chat/internal/chat"
	"github.com/omochice/library-chat/internal/store"
)

func main() {
	// Parse command-line flags
	dsn := flag.String("db", "chat.db", "SQLite database file for chat messages")
	id := flag.String("id", "", "Participant ID whose history to show")
	kind := flag.String("kind", "MEMBER", "Participant kind (ADMIN or MEMBER)")
	peerID := flag.String("peer-id", "", "Show the full conversation with this participant")
	peerKind := flag.String("peer-kind", "ADMIN", "Peer kind (ADMIN or MEMBER)")
	markRead := flag.Bool("mark-read", false, "Mark messages from the peer as read")
	flag.Parse()

	if *id == "" {
		log.Fatal("-id is required")
	}
	k, err := chat.ParseKind(*kind)
	if err != nil {
		log.Fatalf("Invalid -kind: %v", err)
	}
	self := chat.Key{ID: *id, Kind: k}

	ctx := context.Background()
	st, err := store.Open(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer st.Close()

	unread, err := st.UnreadCount(ctx, self)
	if err != nil {
		log.Fatalf("Failed to count unread messages: %v", err)
	}
	fmt.Printf("%s has %d unread message(s)\n", self, unread)

	if *peerID == "" {
		latest, err := st.LatestPerPeer(ctx, self)
		if err != nil {
			log.Fatalf("Failed to load conversations: %v", err)
		}
		for _, m := range latest {
			peer := m.Receiver
			if m.Receiver.Key() == self {
				peer = m.Sender
			}
			fmt.Printf("%-20s %s  %s\n", peer.Key(), m.Timestamp.Format(time.DateTime), m.Body)
		}
		return
	}

	pk, err := chat.ParseKind(*peerKind)
	if err != nil {
		log.Fatalf("Invalid -peer-kind: %v", err)
	}
	peer := chat.Key{ID: *peerID, Kind: pk}

	history, err := st.Conversation(ctx, self, peer)
	if err != nil {
		log.Fatalf("Failed to load conversation: %v", err)
	}
	for _, m := range history {
		mark := " "
		if !m.IsRead && m.Receiver.Key() == self {
			mark = "*"
		}
		fmt.Printf("%s %s %-12s %s\n", mark, m.Timestamp.Format(time.DateTime), m.Sender.Name, m.Body)
	}

	if *markRead {
		n, err := st.MarkAsRead(ctx, self, peer)
		if err != nil {
			log.Fatalf("Failed to mark messages as read: %v", err)
		}
		log.Printf("Marked %d message(s) from %s as read", n, peer)
	}
}
