package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"boardsync/internal/config"
	"boardsync/internal/server"
	"boardsync/internal/session"
)

func main() {
	cfg := config.Load()
	if cfg.Backend.BoardID == "" {
		log.Fatal("BOARD_ID is required")
	}

	sess, err := session.Join(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Board connection failed: %v", err)
	}
	sess.OnError = func(op, message string) {
		log.Printf("[Main] %s rejected: %s", op, message)
	}

	var srv *server.Server
	if cfg.Inspect.Enabled {
		srv = server.New(cfg, sess)
		go func() {
			if err := srv.Start(); err != nil {
				log.Printf("[Main] Inspection server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("[Main] Shutting down...")
	case <-sess.Done():
		log.Println("[Main] Session ended")
	}

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			log.Printf("[Main] Inspection server shutdown error: %v", err)
		}
	}
	sess.Close()
}
