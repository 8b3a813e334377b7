package chat

import (
	"crypto/rsa"
	"sync"

	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
	"github.com/atvirokodosprendimai/gossipchat/pkg/wire"
)

// Peer tracks everything known about one remote party: its address, the
// live stream connection (if any), its RSA public key once exchanged, and
// the groups it has been added to.
//
// The reference implementation's wait_public_key spins in a busy loop
// (`while not self.public_key: pass`) — §9 of the originating spec calls
// this a defect, not a design choice, to be fixed rather than carried
// forward. Peer replaces it with a sync.Cond so waiters block instead of
// burning CPU.
type Peer struct {
	Address wire.Address

	mu            sync.Mutex
	cond          *sync.Cond
	conn          *transport.StreamConn
	publicKey     *rsa.PublicKey
	publicKeySent bool
	groups        []string
}

func newPeer(address wire.Address) *Peer {
	p := &Peer{Address: address}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetConn attaches the current usable stream connection for this peer. A
// peer may have connections superseded over its lifetime (the originating
// spec treats a peer's "connection identity" as the most recently usable
// stream) — callers that replace a connection are responsible for closing
// the one being superseded.
func (p *Peer) SetConn(conn *transport.StreamConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
}

// Conn returns the peer's current connection, or nil if none.
func (p *Peer) Conn() *transport.StreamConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// SetPublicKey records the peer's RSA public key and wakes any goroutine
// blocked in WaitPublicKey.
func (p *Peer) SetPublicKey(key *rsa.PublicKey) {
	p.mu.Lock()
	p.publicKey = key
	p.mu.Unlock()
	p.cond.Broadcast()
}

// PublicKey returns the peer's public key, or nil if not yet exchanged.
func (p *Peer) PublicKey() *rsa.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publicKey
}

// WaitPublicKey blocks until the peer's public key has been set.
func (p *Peer) WaitPublicKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.publicKey == nil {
		p.cond.Wait()
	}
}

// MarkPublicKeySent returns true if this call is the first to mark the
// local public key as sent to this peer (the caller should then send it);
// subsequent calls return false.
func (p *Peer) MarkPublicKeySent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publicKeySent {
		return false
	}
	p.publicKeySent = true
	return true
}

// AddGroup records that this peer is a member of the named group.
func (p *Peer) AddGroup(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = append(p.groups, name)
}

// Groups returns a snapshot of the group names this peer belongs to.
func (p *Peer) Groups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.groups))
	copy(out, p.groups)
	return out
}
