// peer wires together pkg/chat and pkg/directory into a runnable gossip
// chat node. It has no interactive UI, command parser, or log-configuration
// surface by design (spec.md §1 puts those out of scope for the core) — it
// exists so the core API (create_group, advertise_group, send, listen,
// register/query/deregister) can be exercised end to end from a process.
//
// Configuration is via environment variables:
//
//	GOSSIPCHAT_PEER_ADDR      address to listen on (default "127.0.0.1:0")
//	GOSSIPCHAT_PEER_DNS       directory server address, e.g. "127.0.0.1:8080"
//	GOSSIPCHAT_PEER_NAME      name to register with the directory, if any
//	GOSSIPCHAT_PEER_LOGFILE   debug log destination (default "app.log")
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/atvirokodosprendimai/gossipchat/pkg/chat"
	"github.com/atvirokodosprendimai/gossipchat/pkg/cryptobox"
	"github.com/atvirokodosprendimai/gossipchat/pkg/directory"
	"github.com/atvirokodosprendimai/gossipchat/pkg/wire"
)

func main() {
	logFile, err := os.OpenFile(getenv("GOSSIPCHAT_PEER_LOGFILE", "app.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("peer: open log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "[chat-model] ", log.LstdFlags)

	addr, err := wire.ParseAddress(getenv("GOSSIPCHAT_PEER_ADDR", "127.0.0.1:0"))
	if err != nil {
		log.Fatalf("peer: parse listen address: %v", err)
	}

	priv, err := cryptobox.GenerateKeypair()
	if err != nil {
		log.Fatalf("peer: generate keypair: %v", err)
	}

	model := chat.NewModel(logger, addr, priv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenErrCh := make(chan error, 1)
	go func() {
		listenErrCh <- model.Listen(ctx)
	}()
	<-model.Ready()

	if dnsAddr := os.Getenv("GOSSIPCHAT_PEER_DNS"); dnsAddr != "" {
		cache := directory.NewMemoryCache(logger)
		client, err := directory.NewClient(logger, dnsAddr, cache)
		if err != nil {
			log.Fatalf("peer: connect to directory at %s: %v", dnsAddr, err)
		}
		defer client.Close()

		if name := os.Getenv("GOSSIPCHAT_PEER_NAME"); name != "" {
			record, err := client.Register(name, model.Address().Port, 86400)
			if err != nil {
				log.Fatalf("peer: register %q: %v", name, err)
			}
			fmt.Printf("registered %s as %s:%d (expires %.0f)\n", name, record.IP, record.Port, record.ExpiresAt)
		}
	}

	fmt.Printf("chat peer listening on %s\n", model.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Println("shutting down")
	case err := <-listenErrCh:
		if err != nil {
			logger.Printf("listen error: %v", err)
		}
	}

	cancel()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
