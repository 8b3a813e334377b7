package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		h    Header
	}{
		{"ping", Header{Type: TypePing, ID: "abc123", Sender: Address{"10.0.0.1", 9000}}},
		{
			"conversation",
			Header{
				Type:     TypeConversation,
				ID:       "deadbeef",
				Sender:   Address{"127.0.0.1", 6000},
				KeyLen:   256,
				NonceLen: 12,
				BodyLen:  128,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.h.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(encoded) != HeaderSize {
				t.Fatalf("encoded header length = %d, want %d", len(encoded), HeaderSize)
			}

			decoded, err := DecodeHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeHeader: %v", err)
			}
			if decoded != tc.h {
				t.Fatalf("decoded header = %+v, want %+v", decoded, tc.h)
			}
		})
	}
}

func TestHeaderEncodePadsWithSpaces(t *testing.T) {
	h := Header{Type: TypePing, ID: "x", Sender: Address{"host", 1}}
	encoded, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	trimmed := bytes.TrimRight(encoded, " ")
	if len(trimmed) >= HeaderSize {
		t.Fatalf("expected padding, got %d non-space bytes", len(trimmed))
	}
	if !strings.HasPrefix(string(encoded), string(trimmed)) {
		t.Fatalf("padding corrupted encoded payload")
	}
}

func TestHeaderEncodeRejectsOversizedJSON(t *testing.T) {
	h := Header{
		Type:   TypePing,
		ID:     strings.Repeat("a", HeaderSize*2),
		Sender: Address{"host", 1},
	}
	if _, err := h.Encode(); err == nil {
		t.Fatal("expected an error for an oversized header")
	}
}

func TestDecodeHeaderRejectsWrongSize(t *testing.T) {
	if _, err := DecodeHeader([]byte("too short")); err == nil {
		t.Fatal("expected an error for a non-HeaderSize buffer")
	}
}

func TestFrameEncodeReadFrameRoundTrip(t *testing.T) {
	frame := Frame{
		Header: Header{Type: TypeConversation, ID: "frame-1", Sender: Address{"1.2.3.4", 5555}},
		Key:    []byte("rsa-encrypted-key-bytes"),
		Nonce:  []byte("123456789012"),
		Body:   []byte("ciphertext-body"),
	}

	encoded, err := frame.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := ReadFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if decoded.Header.Type != frame.Header.Type || decoded.Header.ID != frame.Header.ID {
		t.Fatalf("decoded header mismatch: %+v", decoded.Header)
	}
	if !bytes.Equal(decoded.Key, frame.Key) {
		t.Fatalf("decoded key mismatch")
	}
	if !bytes.Equal(decoded.Nonce, frame.Nonce) {
		t.Fatalf("decoded nonce mismatch")
	}
	if !bytes.Equal(decoded.Body, frame.Body) {
		t.Fatalf("decoded body mismatch")
	}
}

func TestReadFrameTruncatedErrors(t *testing.T) {
	frame := Frame{
		Header: Header{Type: TypePing, ID: "x", Sender: Address{"h", 1}},
		Body:   []byte("hello"),
	}
	encoded, err := frame.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	truncated := encoded[:len(encoded)-2]
	if _, err := ReadFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	a := Address{Host: "example.org", Port: 4242}
	h := Header{Type: TypePing, ID: "addr", Sender: a}

	encoded, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !decoded.Sender.Equal(a) {
		t.Fatalf("Sender = %+v, want %+v", decoded.Sender, a)
	}
}

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	want := Address{Host: "127.0.0.1", Port: 9001}
	if !got.Equal(want) {
		t.Fatalf("ParseAddress = %+v, want %+v", got, want)
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, s := range []string{"no-port-here", "host:not-a-number", ""} {
		if _, err := ParseAddress(s); err == nil {
			t.Fatalf("ParseAddress(%q) expected an error", s)
		}
	}
}
