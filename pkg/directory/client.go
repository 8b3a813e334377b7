package directory

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
)

// RequestTimeout bounds how long the client waits for a directory server
// response to a single request.
const RequestTimeout = 3 * time.Second

// Client talks to a directory server over the datagram wire protocol and
// maintains a local record cache.
type Client struct {
	logger     *log.Logger
	serverAddr *net.UDPAddr
	transport  *transport.UDPTransport
	cache      *MemoryCache
}

// NewClient creates a directory client that sends requests to serverAddr
// ("host:port") from an ephemeral local UDP socket.
func NewClient(logger *log.Logger, serverAddr string, cache *MemoryCache) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("directory: resolve server address %s: %w", serverAddr, err)
	}
	t, err := transport.Bind("0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("directory: bind client socket: %w", err)
	}
	t.SetLogger(logger)

	if cache == nil {
		cache = NewMemoryCache(logger)
	}

	return &Client{logger: logger, serverAddr: addr, transport: t, cache: cache}, nil
}

// Close releases the client's local socket.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Register binds name to (port, ttl) at the directory server.
//
// The reference client returns its cached entry unconditionally whenever
// one is present, even if the caller is asking for a longer TTL than the
// cached entry still has remaining — that is the Open Question this
// implementation resolves: when the caller's requested expiry
// (now + ttl) would extend the cached expires_at, the cache is bypassed
// and a fresh REGISTER is sent to the server instead of serving stale
// cached state.
func (c *Client) Register(name string, port, ttl int) (Record, error) {
	if cached, ok := c.cache.Get(name); ok {
		requestedExpiry := nowUnix() + float64(ttl)
		if requestedExpiry <= cached.ExpiresAt {
			return cached, nil
		}
	}

	record, err := c.fetch(func(n string) ([]byte, error) { return newRegisterRequest(n, port, ttl) }, name)
	if err != nil {
		return Record{}, err
	}
	c.cache.Set(record)
	return record, nil
}

// Query always hits the network — the reference client never consults the
// cache for QUERY.
func (c *Client) Query(name string) (Record, error) {
	return c.fetch(func(n string) ([]byte, error) { return newQueryRequest(n) }, name)
}

// Deregister removes name's binding at the server and evicts it from the
// local cache.
func (c *Client) Deregister(name string) error {
	req, err := newDeregisterRequest(name)
	if err != nil {
		return err
	}
	if _, err := c.send(req); err != nil {
		return err
	}
	c.cache.Delete(name)
	return nil
}

func (c *Client) fetch(build func(string) ([]byte, error), name string) (Record, error) {
	req, err := build(name)
	if err != nil {
		return Record{}, err
	}
	return c.send(req)
}

func (c *Client) send(req []byte) (Record, error) {
	if err := c.transport.Send(req, c.serverAddr); err != nil {
		return Record{}, fmt.Errorf("directory: send request: %w", err)
	}

	resp, _, err := c.transport.RecvTimeout(RequestTimeout)
	if err != nil {
		return Record{}, fmt.Errorf("directory: await response: %w", err)
	}

	return decodeResponse(resp)
}
