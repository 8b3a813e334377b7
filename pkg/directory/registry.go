package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
)

// SweepInterval is how often the registry purges expired records and
// rewrites its snapshot, matching the reference implementation's
// `_cleanup_loop` cadence exactly.
const SweepInterval = 5 * time.Second

// DefaultSnapshotPath is the snapshot file name used when no override is
// given, matching the reference implementation's "registry.json".
const DefaultSnapshotPath = "registry.json"

// Registry is the single authoritative in-memory name directory. It
// persists a JSON snapshot to disk after every mutation and after every
// sweep, and tolerates a missing or malformed snapshot on startup rather
// than failing to start.
type Registry struct {
	logger       *log.Logger
	snapshotPath string

	mu      sync.Mutex
	records map[string]Record

	federation *Federation
}

// NewRegistry creates a registry that persists to snapshotPath (use
// DefaultSnapshotPath for the reference behavior) and loads any existing
// snapshot immediately. A missing or malformed snapshot file is logged and
// treated as an empty registry, never a fatal error.
func NewRegistry(logger *log.Logger, snapshotPath string) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	if snapshotPath == "" {
		snapshotPath = DefaultSnapshotPath
	}

	r := &Registry{
		logger:       logger,
		snapshotPath: snapshotPath,
		records:      make(map[string]Record),
	}
	r.load()
	return r
}

// Register creates or replaces the binding for name, valid for ttl seconds
// from now.
func (r *Registry) Register(name, ip string, port, ttl int) Record {
	r.mu.Lock()
	record := Record{
		Name:      name,
		IP:        ip,
		Port:      port,
		ExpiresAt: nowUnix() + float64(ttl),
	}
	r.records[name] = record
	r.saveLocked()
	r.mu.Unlock()

	if r.federation != nil {
		r.federation.publishRegister(record)
	}
	return record
}

// Query returns the current binding for name, regardless of freshness —
// only the periodic sweep removes expired entries, matching the reference
// server's query behavior exactly (it does not re-check expiry at lookup
// time).
func (r *Registry) Query(name string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[name]
	return record, ok
}

// Deregister removes name's binding, reporting whether it existed.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	_, ok := r.records[name]
	if ok {
		delete(r.records, name)
		r.saveLocked()
	}
	r.mu.Unlock()

	if ok && r.federation != nil {
		r.federation.publishDeregister(name)
	}
	return ok
}

// applyRemote installs a record received from a federation peer without
// re-publishing it, breaking the replication loop. Last-writer-wins by
// ExpiresAt: an incoming record only replaces a newer local one if it is
// itself at least as fresh.
func (r *Registry) applyRemote(record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[record.Name]
	if ok && existing.ExpiresAt > record.ExpiresAt {
		return
	}
	r.records[record.Name] = record
	r.saveLocked()
}

func (r *Registry) applyRemoteDeregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, name)
	r.saveLocked()
}

// sweep removes expired records, matching the reference implementation's
// `_cleanup`.
func (r *Registry) sweep() {
	now := nowUnix()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, record := range r.records {
		if record.ExpiresAt <= now {
			delete(r.records, name)
		}
	}
}

// RunSweeper runs the periodic sweep-then-save loop until ctx is done: wait
// SweepInterval, sweep, save, repeat — with a final save on shutdown.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.saveLocked()
			r.mu.Unlock()
			return
		case <-ticker.C:
			r.sweep()
			r.mu.Lock()
			r.saveLocked()
			r.mu.Unlock()
		}
	}
}

// EnableFederation wires the registry to replicate mutations through the
// given Redis-backed federation transport. It is optional — the registry
// behaves identically to the reference implementation without it.
func (r *Registry) EnableFederation(f *Federation) {
	r.federation = f
	f.onRemoteRegister = r.applyRemote
	f.onRemoteDeregister = r.applyRemoteDeregister
}

func (r *Registry) saveLocked() {
	data := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		data[k] = v
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		r.logger.Printf("[Registry] failed to marshal snapshot: %v", err)
		return
	}

	if err := os.WriteFile(r.snapshotPath, encoded, 0600); err != nil {
		r.logger.Printf("[Registry] failed to write snapshot %s: %v", r.snapshotPath, err)
	}
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Printf("[Registry] failed to read snapshot %s: %v", r.snapshotPath, err)
		}
		return
	}

	var decoded map[string]Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		r.logger.Printf("[Registry] snapshot %s is malformed, starting empty: %v", r.snapshotPath, err)
		return
	}

	for k, v := range decoded {
		r.records[k] = v
	}
}

// Serve runs the directory server's datagram request/response loop on t
// until ctx is done, dispatching each request and writing its response
// back to the sender — matching the reference Router.handler's
// decode-dispatch-reply shape.
func (r *Registry) Serve(ctx context.Context, t *transport.UDPTransport) {
	t.Serve(ctx, func(data []byte, from net.Addr) {
		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			return
		}
		resp := r.handleDatagram(data, udpAddr.IP.String())
		if err := t.Send(resp, udpAddr); err != nil {
			r.logger.Printf("[Registry] failed to reply to %s: %v", udpAddr, err)
		}
	})
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// handleDatagram dispatches one inbound directory-protocol datagram and
// returns the response bytes to send back, mirroring the reference
// Router.handler's decode -> dispatch -> reply shape.
func (r *Registry) handleDatagram(data []byte, remoteIP string) []byte {
	var req incomingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		resp, _ := encodeError("invalid json")
		return resp
	}
	if req.Method == "" {
		resp, _ := encodeError("missing field 'method'")
		return resp
	}

	switch req.Method {
	case MethodRegister:
		if req.Port < 0 || req.Port > 65535 {
			resp, _ := encodeError(fmt.Sprintf("invalid port, got: %d", req.Port))
			return resp
		}
		record := r.Register(req.Name, remoteIP, req.Port, req.TTL)
		resp, _ := encodeOK(record)
		return resp

	case MethodQuery:
		record, ok := r.Query(req.Name)
		if !ok {
			resp, _ := encodeError("Not found")
			return resp
		}
		resp, _ := encodeOK(record)
		return resp

	case MethodDeregister:
		ok := r.Deregister(req.Name)
		if !ok {
			resp, _ := encodeError("Not found")
			return resp
		}
		resp, _ := encodeOKEmpty()
		return resp

	default:
		resp, _ := encodeError(fmt.Sprintf("unsupported method '%s'", req.Method))
		return resp
	}
}
