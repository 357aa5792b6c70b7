package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omochice/library-chat/internal/chat"
	"github.com/omochice/library-chat/internal/server"
	"github.com/omochice/library-chat/internal/store"
)

func main() {
	// Parse command-line flags
	addr := flag.String("addr", ":8081", "Address to accept WebSocket connections on (e.g., :8081)")
	dsn := flag.String("db", "chat.db", "SQLite database file for chat messages")
	pollTimeout := flag.Duration("poll-timeout", time.Second, "Upper bound on a single poller wait")
	idleTimeout := flag.Duration("idle-timeout", 0, "Close connections idle for this long (0 disables)")
	flag.Parse()

	ctx := context.Background()
	st, err := store.Open(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer st.Close()

	router := chat.NewRouter(chat.NewRegistry(), st)
	srv := server.New(server.Config{
		Addr:        *addr,
		PollTimeout: *pollTimeout,
		IdleTimeout: *idleTimeout,
	}, router)

	if err := srv.Listen(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Stop()
	}

	log.Println("Chat server stopped")
}
