package bootstrap

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/anacrolix/dht/v2"
)

// AnnounceInterval is how often a running node re-announces its listening
// port to the DHT swarm.
const AnnounceInterval = 15 * time.Minute

// QueryInterval is how often a running node asks the swarm for peers.
const QueryInterval = 30 * time.Second

// queryWindow bounds how long a single announce/query round waits for
// responses before giving up.
const queryWindow = 30 * time.Second

// DefaultNodes are well-known public DHT bootstrap nodes used to join the
// Mainline DHT when no private bootstrap node is configured.
var DefaultNodes = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

// Node runs a DHT client used purely for rendezvous: announcing this
// process's service port under a shared-secret-derived infohash, and
// discovering the addresses other holders of the same secret have
// announced.
type Node struct {
	logger *log.Logger
	server *dht.Server
}

// NewNode binds a UDP socket and joins the Mainline DHT using bootstrapNodes
// (DefaultNodes if empty).
func NewNode(logger *log.Logger, bootstrapNodes []string) (*Node, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(bootstrapNodes) == 0 {
		bootstrapNodes = DefaultNodes
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: bind dht socket: %w", err)
	}

	var addrs []dht.Addr
	for _, n := range bootstrapNodes {
		resolved, err := net.ResolveUDPAddr("udp", n)
		if err != nil {
			logger.Printf("[Bootstrap] failed to resolve bootstrap node %s: %v", n, err)
			continue
		}
		addrs = append(addrs, dht.NewAddr(resolved))
	}
	if len(addrs) == 0 {
		conn.Close()
		return nil, fmt.Errorf("bootstrap: no bootstrap nodes resolved")
	}

	cfg := dht.NewDefaultServerConfig()
	cfg.Conn = conn
	cfg.StartingNodes = func() ([]dht.Addr, error) { return addrs, nil }

	server, err := dht.NewServer(cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap: start dht server: %w", err)
	}

	return &Node{logger: logger, server: server}, nil
}

// Close shuts down the DHT node's socket.
func (n *Node) Close() {
	n.server.Close()
}

// Announce publishes this node's service port under infohash once, waiting
// up to the query window for acknowledging responses. It returns the number
// of nodes that acknowledged the announce.
func (n *Node) Announce(ctx context.Context, infohash [20]byte, port int) int {
	ctx, cancel := context.WithTimeout(ctx, queryWindow)
	defer cancel()

	announce, err := n.server.Announce(infohash, port, false)
	if err != nil {
		n.logger.Printf("[Bootstrap] announce failed: %v", err)
		return 0
	}
	defer announce.Close()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count
		case _, ok := <-announce.Peers:
			if !ok {
				return count
			}
			count++
		}
	}
}

// RunAnnounceLoop announces on AnnounceInterval until ctx is done.
func (n *Node) RunAnnounceLoop(ctx context.Context, infohash [20]byte, port int) {
	n.Announce(ctx, infohash, port)

	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Announce(ctx, infohash, port)
		}
	}
}

// Query asks the swarm for peers announced under infohash, calling onPeer
// for each discovered address as it arrives.
func (n *Node) Query(ctx context.Context, infohash [20]byte, onPeer func(net.Addr)) {
	ctx, cancel := context.WithTimeout(ctx, queryWindow)
	defer cancel()

	peers, err := n.server.Announce(infohash, 0, false)
	if err != nil {
		n.logger.Printf("[Bootstrap] query failed: %v", err)
		return
	}
	defer peers.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-peers.Peers:
			if !ok {
				return
			}
			for _, addr := range batch.Peers {
				onPeer(&net.UDPAddr{IP: addr.IP, Port: addr.Port})
			}
		}
	}
}

// RunQueryLoop queries on QueryInterval until ctx is done.
func (n *Node) RunQueryLoop(ctx context.Context, infohash [20]byte, onPeer func(net.Addr)) {
	n.Query(ctx, infohash, onPeer)

	ticker := time.NewTicker(QueryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Query(ctx, infohash, onPeer)
		}
	}
}
