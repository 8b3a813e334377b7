package chat

import (
	"context"
	"encoding/json"
	"net"

	"github.com/atvirokodosprendimai/gossipchat/pkg/cryptobox"
	"github.com/atvirokodosprendimai/gossipchat/pkg/transport"
	"github.com/atvirokodosprendimai/gossipchat/pkg/wire"
)

// handleConnection is the single dispatch loop run for every stream
// connection, whether it was accepted inbound or dialed outbound — the
// reference implementation runs the identical _handler function in both
// cases, and this mirrors that symmetry.
func (m *Model) handleConnection(ctx context.Context, conn *transport.StreamConn, remote net.Addr) {
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := wire.ReadFrame(conn)
		if err != nil {
			m.logger.Printf("[Chat] connection from %s closed: %v", remote, err)
			return
		}
		header := frame.Header

		var key []byte
		if header.KeyLen > 0 {
			key, err = cryptobox.RSADecrypt(m.privateKey, frame.Key)
			if err != nil {
				m.logger.Printf("[Chat] failed to unwrap key from %s: %v", header.Sender, err)
				continue
			}
		}

		nonce := frame.Nonce
		bodyUnmodified := frame.Body
		body := frame.Body
		if key != nil && len(nonce) > 0 {
			body, err = cryptobox.AESDecrypt(key, nonce, frame.Body)
			if err != nil {
				m.logger.Printf("[Chat] failed to open body from %s: %v", header.Sender, err)
				continue
			}
		}

		if m.isSeen(header.ID) {
			continue
		}
		m.markSeen(header.ID)

		peer := m.getPeer(header.Sender)

		switch header.Type {
		case wire.TypePing:
			pong, _, err := m.createMessage(wire.TypePong, nil, nil)
			if err != nil {
				m.logger.Printf("[Chat] failed to build PONG: %v", err)
				continue
			}
			if err := conn.Send(pong); err != nil {
				m.logger.Printf("[Chat] failed to send PONG to %s: %v", header.Sender, err)
			}

		case wire.TypePublicKey:
			peer.SetConn(conn)
			pub, err := cryptobox.PublicKeyFromJSON(body)
			if err != nil {
				m.logger.Printf("[Chat] malformed public key from %s: %v", header.Sender, err)
				continue
			}
			peer.SetPublicKey(pub)

			if err := m.exchangePublicKey(peer); err != nil {
				m.logger.Printf("[Chat] failed to reply with public key to %s: %v", header.Sender, err)
			}

			m.logger.Printf("[Chat] <- PUBLIC_KEY from %s", header.Sender)

		case wire.TypeAdvertisement:
			if key == nil || len(nonce) == 0 {
				continue
			}
			var ad wire.AdvertisementBody
			if err := json.Unmarshal(body, &ad); err != nil {
				m.logger.Printf("[Chat] malformed advertisement from %s: %v", header.Sender, err)
				continue
			}

			// A later ADVERTISEMENT for the same name intentionally replaces
			// the existing group record, matching the reference handler.
			group := newGroup(ad.Group, ad.Token)
			group.AddPeer(peer)
			m.setGroup(ad.Group, group)

			m.logger.Printf("[Chat] <- ADVERTISEMENT from %s", header.Sender)

		case wire.TypeConversation:
			if key == nil || len(nonce) == 0 {
				continue
			}
			var conv wire.ConversationBody
			if err := json.Unmarshal(body, &conv); err != nil {
				m.logger.Printf("[Chat] malformed conversation from %s: %v", header.Sender, err)
				continue
			}

			group := m.Group(conv.Group)
			if group == nil {
				continue
			}
			if conv.GroupToken != group.Token {
				continue
			}

			msg := &Message{
				Sender:     conv.Sender,
				Content:    conv.Content,
				SentAt:     conv.Timestamp,
				ReceivedAt: nowUnix(),
			}
			group.insertMessage(msg)
			m.logger.Printf("[Chat] <- CONVERSATION from %s", header.Sender)

			m.forward(group, header, key, nonce, bodyUnmodified)
		}
	}
}

// forward re-encrypts the AES key for every other group member that has
// completed the handshake and relays the original (unmodified) nonce and
// ciphertext body, skipping the sender and anyone without an open,
// key-exchanged connection. Each recipient is forwarded to at most once per
// message, enforced by the caller's seen-set check before forward is ever
// invoked.
func (m *Model) forward(group *Group, header wire.Header, key, nonce, body []byte) {
	for _, peer := range group.Peers() {
		if peer.Conn() == nil || peer.PublicKey() == nil {
			continue
		}
		if peer.Address.Equal(header.Sender) {
			continue
		}

		newKey, err := cryptobox.RSAEncrypt(peer.PublicKey(), key)
		if err != nil {
			m.logger.Printf("[Chat] failed to re-wrap key for %s: %v", peer.Address, err)
			continue
		}

		frame := wire.Frame{Header: header, Key: newKey, Nonce: nonce, Body: body}
		encoded, err := frame.Encode()
		if err != nil {
			m.logger.Printf("[Chat] failed to encode forwarded frame for %s: %v", peer.Address, err)
			continue
		}

		if err := peer.Conn().Send(encoded); err != nil {
			m.logger.Printf("[Chat] failed to forward to %s: %v", peer.Address, err)
			continue
		}

		m.logger.Printf("[Chat] forwarded CONVERSATION (%s -> %s)", header.Sender, peer.Address)
	}
}
