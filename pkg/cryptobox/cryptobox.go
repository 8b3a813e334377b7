// Package cryptobox implements the hybrid envelope primitives used by the
// peer protocol: RSA-2048/OAEP-SHA256 for key exchange and AES-256-GCM for
// bulk encryption, plus PEM/SubjectPublicKeyInfo marshaling for exchanging
// public keys over the wire.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
)

// RSAKeyBits is the RSA modulus size used for peer keypairs, matching the
// reference implementation's 2048-bit keys.
const RSAKeyBits = 2048

// AESKeyBytes is the AES-256 key size in bytes.
const AESKeyBytes = 32

// NonceBytes is the recommended AES-GCM nonce size.
const NonceBytes = 12

// GenerateKeypair creates a new RSA-2048 keypair with the standard public
// exponent (65537, Go's crypto/rsa default).
func GenerateKeypair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: generate rsa keypair: %w", err)
	}
	return key, nil
}

// GenerateAESKey creates a new random AES-256 key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, AESKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptobox: generate aes key: %w", err)
	}
	return key, nil
}

// publicKeyJSON mirrors the reference implementation's wire envelope for a
// public key: a single JSON object with one PEM-encoded field.
type publicKeyJSON struct {
	PublicKey string `json:"public_key"`
}

// PublicKeyToJSON renders a public key as the PEM/SubjectPublicKeyInfo JSON
// envelope sent in a PUBLIC_KEY message body.
func PublicKeyToJSON(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: marshal public key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	out, err := json.Marshal(publicKeyJSON{PublicKey: string(pemBytes)})
	if err != nil {
		return nil, fmt.Errorf("cryptobox: encode public key envelope: %w", err)
	}
	return out, nil
}

// PublicKeyFromJSON parses a PUBLIC_KEY message body produced by
// PublicKeyToJSON.
func PublicKeyFromJSON(data []byte) (*rsa.PublicKey, error) {
	var env publicKeyJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("cryptobox: decode public key envelope: %w", err)
	}
	block, _ := pem.Decode([]byte(env.PublicKey))
	if block == nil {
		return nil, fmt.Errorf("cryptobox: no PEM block in public key envelope")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptobox: public key is not RSA")
	}
	return rsaPub, nil
}

// RSAEncrypt wraps message (typically an AES key) for the given recipient
// using OAEP with SHA-256 for both the hash and MGF1, and an empty label —
// matching the reference implementation exactly.
func RSAEncrypt(pub *rsa.PublicKey, message []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, message, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: rsa encrypt: %w", err)
	}
	return ciphertext, nil
}

// RSADecrypt reverses RSAEncrypt using the recipient's private key.
func RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	message, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: rsa decrypt: %w", err)
	}
	return message, nil
}

// AESEncrypt seals plaintext under key with a freshly generated 12-byte
// nonce, returning the nonce and the ciphertext (which includes the GCM
// authentication tag).
func AESEncrypt(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// AESDecrypt opens ciphertext under key and nonce. It returns an error if
// the key, nonce, or ciphertext don't match — the reference implementation
// raises ValueError on an authentication-tag mismatch, which Go expresses as
// a plain decrypt error.
func AESDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decryption failed: wrong key, wrong nonce, or corrupted ciphertext: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	return gcm, nil
}
