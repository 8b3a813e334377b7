// Package bootstrap provides opt-in BitTorrent-DHT-based rendezvous for
// peers and directory servers that share a secret but don't know each
// other's address yet. Nothing in pkg/chat or pkg/directory depends on
// this package — it's a discovery aid layered on top, following the same
// "everything still works without it" shape as directory federation.
package bootstrap

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength matches the reference derivation's minimum shared-secret
// length requirement.
const MinSecretLength = 16

const infohashInfo = "gossipchat-dht-rendezvous-v1"

// InfoHash derives a 20-byte BitTorrent DHT infohash (BEP 5) from a shared
// bootstrap secret, so that every participant holding the same secret
// converges on the same DHT swarm without leaking the secret itself.
func InfoHash(secret string) ([20]byte, error) {
	var infohash [20]byte
	if len(secret) < MinSecretLength {
		return infohash, fmt.Errorf("bootstrap: secret must be at least %d characters", MinSecretLength)
	}

	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(infohashInfo))
	if _, err := io.ReadFull(reader, infohash[:]); err != nil {
		return infohash, fmt.Errorf("bootstrap: derive infohash: %w", err)
	}
	return infohash, nil
}
