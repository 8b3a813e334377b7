// dnsserver is the authoritative name directory for the gossip chat
// protocol. It listens on the datagram wire protocol for REGISTER, QUERY,
// and DEREGISTER requests, persists a JSON snapshot of its records after
// every mutation and every sweep, and tolerates a missing or malformed
// snapshot on startup rather than failing to start.
//
// Configuration is via environment variables rather than flags, since this
// binary normally runs unattended:
//
//	GOSSIPCHAT_DNS_ADDR       listen address (default "0.0.0.0:8080")
//	GOSSIPCHAT_DNS_SNAPSHOT   snapshot file path (default "registry.json")
//	GOSSIPCHAT_DNS_REDIS      optional Redis address for multi-instance federation
//	GOSSIPCHAT_DNS_NODE_ID    federation node ID (default: hostname)
//	GOSSIPCHAT_DNS_HEALTHZ    optional HTTP address for a plain /healthz endpoint
//	OTEL_EXPORTER_OTLP_ENDPOINT  optional OTLP/HTTP collector endpoint
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/gossipchat/pkg/directory"
	gossipotel "github.com/atvirokodosprendimai/gossipchat/pkg/otel"
	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
)

const (
	defaultAddr         = "0.0.0.0:8080"
	shutdownGracePeriod = 5 * time.Second
)

func main() {
	logger := log.Default()

	addr := getenv("GOSSIPCHAT_DNS_ADDR", defaultAddr)
	snapshotPath := getenv("GOSSIPCHAT_DNS_SNAPSHOT", directory.DefaultSnapshotPath)

	otelShutdown := func(context.Context) {}
	if fn, err := gossipotel.Init(context.Background(), "gossipchat-dnsserver", "v1"); err != nil {
		logger.Printf("WARNING: OTel setup failed: %v — telemetry disabled", err)
	} else {
		otelShutdown = fn
	}

	registry := directory.NewRegistry(logger, snapshotPath)

	if redisAddr := os.Getenv("GOSSIPCHAT_DNS_REDIS"); redisAddr != "" {
		nodeID := os.Getenv("GOSSIPCHAT_DNS_NODE_ID")
		if nodeID == "" {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "dnsserver-unknown"
			}
			nodeID = hostname
		}

		fedCtx, fedCancel := context.WithCancel(context.Background())
		defer fedCancel()

		federation, err := directory.NewFederation(fedCtx, logger, redisAddr, nodeID)
		if err != nil {
			logger.Printf("WARNING: federation disabled: %v", err)
		} else {
			registry.EnableFederation(federation)
			logger.Printf("[DirectoryFederation] replicating via redis at %s (node=%s)", redisAddr, nodeID)
		}
	}

	udp, err := transport.Bind(addr)
	if err != nil {
		log.Fatalf("dnsserver: bind %s: %v", addr, err)
	}
	udp.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())

	sweeperDone := make(chan struct{})
	go func() {
		registry.RunSweeper(ctx)
		close(sweeperDone)
	}()
	go registry.Serve(ctx, udp)

	var healthSrv *http.Server
	if healthAddr := os.Getenv("GOSSIPCHAT_DNS_HEALTHZ"); healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
		})
		healthSrv = &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("healthz server error: %v", err)
			}
		}()
		logger.Printf("dnsserver: /healthz on %s", healthAddr)
	}

	logger.Printf("dnsserver listening on %s (snapshot=%s)", addr, snapshotPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	logger.Println("shutting down")
	cancel()
	<-sweeperDone

	if healthSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer shutdownCancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("healthz shutdown: %v", err)
		}
	}

	udp.Close()
	otelShutdown(context.Background())
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
