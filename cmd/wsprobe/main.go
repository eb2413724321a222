// wsprobe connects to a notifyd WebSocket endpoint and prints every frame it receives.
// Usage: go run ./cmd/wsprobe --url ws://localhost:8080/ws --user u1 --key configs/gateway.pem
//
// Without --user the connection is anonymous and receives public events only.
// With --key the user id is sent as a signed assertion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/exchange-notify/internal/auth"
	"github.com/rickgao/exchange-notify/internal/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "notifyd WebSocket URL")
	userID := flag.String("user", "", "user id to subscribe as (empty = anonymous)")
	keyPath := flag.String("key", "", "private key PEM used to sign the user assertion")
	verbose := flag.Bool("verbose", false, "pretty-print JSON payloads")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := client.DefaultConfig()
	cfg.URL = *url
	cfg.UserID = *userID

	if *keyPath != "" {
		signer, err := auth.LoadSigner(*userID, *keyPath)
		if err != nil {
			logger.Error("failed to load signer", "error", err)
			os.Exit(1)
		}
		cfg.Signer = signer
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	logger.Info("streaming started - press Ctrl+C to stop",
		"url", *url,
		"user_id", *userID,
		"signed", cfg.Signer != nil,
	)

	var binaryFrames, textFrames int
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "binary_frames", binaryFrames, "text_frames", textFrames)
			return

		case err := <-c.Errors():
			logger.Error("connection lost", "error", err)
			os.Exit(1)

		case msg := <-c.Messages():
			if msg.Binary {
				binaryFrames++
			} else {
				textFrames++
			}
			printFrame(msg, *verbose)

		case <-ticker.C:
			logger.Info("stats",
				"binary_frames", binaryFrames,
				"text_frames", textFrames,
				"connected", c.IsConnected(),
			)
		}
	}
}

func printFrame(msg client.Message, verbose bool) {
	label := "[PORTFOLIO]"
	if msg.Binary {
		label = "[EVENT]"
	}

	data := msg.Data
	if verbose {
		var indented bytes.Buffer
		if err := json.Indent(&indented, data, "", "  "); err == nil {
			data = indented.Bytes()
		}
	}

	fmt.Printf("%s %s %s\n", msg.ReceivedAt.Format(time.RFC3339Nano), label, data)
}
