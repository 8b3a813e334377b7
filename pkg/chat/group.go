package chat

import "sync"

// Group is a named conversation with an immutable membership token and a
// time-ordered message history.
type Group struct {
	Name  string
	Token string

	mu       sync.Mutex
	peers    []*Peer
	messages []*Message
}

func newGroup(name, token string) *Group {
	return &Group{Name: name, Token: token}
}

// AddPeer appends a peer to the group's membership.
func (g *Group) AddPeer(p *Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peers = append(g.peers, p)
}

// Peers returns a snapshot of the group's current membership, safe to range
// over without holding the group lock.
func (g *Group) Peers() []*Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Peer, len(g.peers))
	copy(out, g.peers)
	return out
}

// Messages returns a snapshot of the group's message history in
// non-decreasing sent_at order.
func (g *Group) Messages() []*Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Message, len(g.messages))
	copy(out, g.messages)
	return out
}

// appendMessage appends msg to the end of the history — used for messages
// originated locally via Send, which are produced in sent_at order relative
// to this group's own history by construction.
func (g *Group) appendMessage(msg *Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
}

// insertMessage inserts msg into the history keeping it sorted by SentAt,
// scanning backward from the end exactly as the reference _insert_message
// does — used for messages arriving over the wire, where cross-sender
// arrival order gives no ordering guarantee (§5) and the sent_at invariant
// must be enforced on insert rather than assumed from arrival order.
func (g *Group) insertMessage(msg *Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := len(g.messages)
	for i > 0 && g.messages[i-1].SentAt > msg.SentAt {
		i--
	}
	g.messages = append(g.messages, nil)
	copy(g.messages[i+1:], g.messages[i:])
	g.messages[i] = msg
}
