// Package chat implements the peer-to-peer group chat protocol: handshake,
// envelope construction, group membership, message history, and forwarding.
package chat

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/gossipchat/pkg/cryptobox"
	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
	"github.com/atvirokodosprendimai/gossipchat/pkg/wire"
)

// Model is one chat node: it owns a keypair, the set of groups it
// participates in, the set of peers it has exchanged handshakes with, and
// the global seen-set used for forward deduplication.
type Model struct {
	logger     *log.Logger
	address    wire.Address
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey

	mu     sync.RWMutex
	groups map[string]*Group
	peers  map[string]*Peer

	seenMu sync.Mutex
	seen   map[string]struct{}

	listener *transport.StreamListener
	ready    chan struct{}
}

// NewModel creates a chat node bound to address, using the given RSA
// keypair for the envelope handshake.
func NewModel(logger *log.Logger, address wire.Address, priv *rsa.PrivateKey) *Model {
	if logger == nil {
		logger = log.Default()
	}
	return &Model{
		logger:     logger,
		address:    address,
		privateKey: priv,
		publicKey:  &priv.PublicKey,
		groups:     make(map[string]*Group),
		peers:      make(map[string]*Peer),
		seen:       make(map[string]struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready returns a channel that is closed once Listen has bound its socket
// and Address() reflects the OS-assigned port, if any. Callers that need the
// final address (e.g. to REGISTER it with the directory) should wait on
// this instead of polling Address().
func (m *Model) Ready() <-chan struct{} {
	return m.ready
}

// Address returns the node's own (host, port).
func (m *Model) Address() wire.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// CreateGroup creates a new, empty group with a freshly generated token. It
// returns an error if a group with that name already exists.
func (m *Model) CreateGroup(name string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[name]; exists {
		return nil, fmt.Errorf("chat: group %q already exists", name)
	}

	token, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("chat: generate group token: %w", err)
	}

	group := newGroup(name, token)
	m.groups[name] = group

	m.logger.Printf("[Chat] group created %q", name)
	return group, nil
}

// Group returns the named group, or nil if it doesn't exist.
func (m *Model) Group(name string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[name]
}

func (m *Model) setGroup(name string, g *Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[name] = g
}

// AdvertiseGroup connects to dest (dialing if not already connected),
// performs the handshake, and sends it an ADVERTISEMENT for groupName,
// adding dest as a member of the group.
func (m *Model) AdvertiseGroup(ctx context.Context, groupName string, dest wire.Address) error {
	group := m.Group(groupName)
	if group == nil {
		return fmt.Errorf("chat: unknown group %q", groupName)
	}

	peer := m.getPeer(dest)
	if peer.Conn() == nil {
		if _, err := m.initiateConnection(ctx, peer); err != nil {
			return fmt.Errorf("chat: connect to %s: %w", dest, err)
		}
	}

	group.AddPeer(peer)
	peer.AddGroup(groupName)

	body, err := json.Marshal(wire.AdvertisementBody{Group: group.Name, Token: group.Token})
	if err != nil {
		return fmt.Errorf("chat: encode advertisement body: %w", err)
	}

	msg, _, err := m.createMessage(wire.TypeAdvertisement, body, peer.PublicKey())
	if err != nil {
		return fmt.Errorf("chat: build advertisement: %w", err)
	}

	if err := peer.Conn().Send(msg); err != nil {
		return fmt.Errorf("chat: send advertisement to %s: %w", dest, err)
	}

	m.logger.Printf("[Chat] -> ADVERTISEMENT to %s", dest)
	return nil
}

// Send broadcasts content to every member of groupName that has completed
// the handshake, and records it in the local history.
func (m *Model) Send(groupName, content string) error {
	group := m.Group(groupName)
	if group == nil {
		return fmt.Errorf("chat: unknown group %q", groupName)
	}
	self := m.Address()
	ts := nowUnix()

	for _, peer := range group.Peers() {
		if peer.Conn() == nil || peer.PublicKey() == nil {
			continue
		}

		body, err := json.Marshal(wire.ConversationBody{
			Sender:     self,
			Content:    content,
			Timestamp:  ts,
			Group:      group.Name,
			GroupToken: group.Token,
		})
		if err != nil {
			return fmt.Errorf("chat: encode conversation body: %w", err)
		}

		msg, _, err := m.createMessage(wire.TypeConversation, body, peer.PublicKey())
		if err != nil {
			return fmt.Errorf("chat: build conversation message: %w", err)
		}

		if err := peer.Conn().Send(msg); err != nil {
			m.logger.Printf("[Chat] send to %s failed: %v", peer.Address, err)
			continue
		}

		m.logger.Printf("[Chat] -> CONVERSATION to %s", peer.Address)
	}

	group.appendMessage(&Message{Sender: self, Content: content, SentAt: ts, ReceivedAt: ts})
	return nil
}

// Listen starts accepting inbound connections and blocks serving them until
// ctx is cancelled. If the node was created with an ephemeral port (":0"),
// the node's address is updated to the OS-assigned port before any message
// is sent, so self-reported Sender addresses in outgoing envelopes are
// dialable by their recipients. Ready() closes once that address update has
// happened, so callers that need the bound address (e.g. before REGISTERing
// it with the directory) should wait on it rather than poll Address().
func (m *Model) Listen(ctx context.Context) error {
	self := m.Address()
	ln, err := transport.Listen(self.String())
	if err != nil {
		return fmt.Errorf("chat: listen on %s: %w", self, err)
	}
	ln.SetLogger(m.logger)
	m.listener = ln

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		m.mu.Lock()
		m.address.Port = tcpAddr.Port
		m.mu.Unlock()
	}
	close(m.ready)

	ln.Serve(ctx, m.handleConnection)
	return nil
}

func (m *Model) getPeer(address wire.Address) *Peer {
	key := address.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.peers[key]
	if !ok {
		peer = newPeer(address)
		m.peers[key] = peer
	}
	return peer
}

func (m *Model) isSeen(id string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	_, ok := m.seen[id]
	return ok
}

func (m *Model) markSeen(id string) {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	m.seen[id] = struct{}{}
}

func (m *Model) initiateConnection(ctx context.Context, peer *Peer) (*transport.StreamConn, error) {
	conn, err := transport.Dial(ctx, peer.Address.String(), m.handleConnection)
	if err != nil {
		return nil, err
	}
	peer.SetConn(conn)

	if err := m.exchangePublicKey(peer); err != nil {
		return nil, err
	}
	peer.WaitPublicKey()

	return conn, nil
}

func (m *Model) exchangePublicKey(peer *Peer) error {
	conn := peer.Conn()
	if conn == nil {
		return fmt.Errorf("chat: peer %s has no connection", peer.Address)
	}

	if peer.MarkPublicKeySent() {
		body, err := cryptobox.PublicKeyToJSON(m.publicKey)
		if err != nil {
			return fmt.Errorf("chat: encode public key: %w", err)
		}

		msg, _, err := m.createMessage(wire.TypePublicKey, body, nil)
		if err != nil {
			return fmt.Errorf("chat: build public key message: %w", err)
		}

		if err := conn.Send(msg); err != nil {
			return fmt.Errorf("chat: send public key to %s: %w", peer.Address, err)
		}

		m.logger.Printf("[Chat] -> PUBLIC_KEY to %s", peer.Address)
	}

	return nil
}

// createMessage builds a complete on-wire frame for msgType. If pub is
// non-nil the body is sealed under a freshly generated AES key, which is
// itself wrapped under pub; otherwise the message carries no key or nonce
// (the handshake's initial PUBLIC_KEY message is sent in the clear, as
// there is no peer key yet to encrypt under).
func (m *Model) createMessage(msgType string, body []byte, pub *rsa.PublicKey) ([]byte, string, error) {
	var key, nonce []byte

	if pub != nil {
		aesKey, err := cryptobox.GenerateAESKey()
		if err != nil {
			return nil, "", fmt.Errorf("chat: generate aes key: %w", err)
		}
		key, err = cryptobox.RSAEncrypt(pub, aesKey)
		if err != nil {
			return nil, "", fmt.Errorf("chat: wrap aes key: %w", err)
		}
		nonce, body, err = cryptobox.AESEncrypt(aesKey, body)
		if err != nil {
			return nil, "", fmt.Errorf("chat: seal body: %w", err)
		}
	}

	id, err := randomHex(16)
	if err != nil {
		return nil, "", fmt.Errorf("chat: generate message id: %w", err)
	}

	frame := wire.Frame{
		Header: wire.Header{Type: msgType, ID: id, Sender: m.Address()},
		Key:    key,
		Nonce:  nonce,
		Body:   body,
	}

	encoded, err := frame.Encode()
	if err != nil {
		return nil, "", err
	}

	m.markSeen(id)
	return encoded, id, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
