package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/omochice/library-chat/internal/chat"
	"github.com/omochice/library-chat/internal/client"
	"github.com/omochice/library-chat/pkg/protocol"
)

func main() {
	// Parse command-line flags
	serverAddr := flag.String("server", "ws://localhost:8081", "WebSocket server address (e.g., ws://localhost:8081)")
	id := flag.String("id", "", "Your participant id")
	kind := flag.String("kind", "MEMBER", "Your participant kind (ADMIN or MEMBER)")
	name := flag.String("name", "", "Your display name")
	toID := flag.String("to-id", "", "Receiver participant id")
	toKind := flag.String("to-kind", "ADMIN", "Receiver participant kind (ADMIN or MEMBER)")
	toName := flag.String("to-name", "", "Receiver display name")
	flag.Parse()

	if *id == "" || *toID == "" {
		log.Fatal("Both -id and -to-id are required")
	}
	selfKind, err := chat.ParseKind(*kind)
	if err != nil {
		log.Fatalf("Invalid -kind: %v", err)
	}
	receiverKind, err := chat.ParseKind(*toKind)
	if err != nil {
		log.Fatalf("Invalid -to-kind: %v", err)
	}

	self := chat.Participant{ID: *id, Kind: selfKind, Name: *name}
	receiver := chat.Participant{ID: *toID, Kind: receiverKind, Name: *toName}

	c := client.New(*serverAddr, self)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = c.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Disconnect()

	if err := c.Register(); err != nil {
		log.Fatalf("Failed to register: %v", err)
	}
	log.Printf("Connected to %s as %s", *serverAddr, c.Self().Key())

	// Start goroutine to receive and display messages
	go func() {
		for msg := range c.Messages() {
			switch m := msg.(type) {
			case protocol.Registered:
				fmt.Println("*** registered ***")
			case protocol.Delivery:
				fmt.Printf("[%s %s -> %s] %s\n", m.Timestamp, m.SenderID, m.ReceiverID, m.Message)
			case protocol.Failure:
				fmt.Printf("*** not sent: %s ***\n", m.Reason)
			}
		}
		log.Println("Server closed the connection")
	}()

	// Read from stdin and send messages
	fmt.Printf("Chatting with %s (type 'quit' to exit):\n", receiver.Key())
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "quit" || text == "exit" {
			break
		}

		if err := c.SendMessage(receiver, text); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}
