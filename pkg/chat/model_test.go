package chat

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/gossipchat/pkg/cryptobox"
	"github.com/atvirokodosprendimai/gossipchat/pkg/wire"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestNode creates a listening Model bound to an ephemeral loopback port.
func newTestNode(t *testing.T) *Model {
	t.Helper()
	priv, err := cryptobox.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	m := NewModel(discardLogger(), wire.Address{Host: "127.0.0.1", Port: 0}, priv)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go m.Listen(ctx)
	<-m.Ready()

	if m.Address().Port == 0 {
		t.Fatal("node never bound a port")
	}
	return m
}

func TestCreateGroupRejectsDuplicate(t *testing.T) {
	m := newTestNode(t)
	if _, err := m.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := m.CreateGroup("g1"); err == nil {
		t.Fatal("expected an error creating a duplicate group")
	}
}

func TestHandshakeAdvertiseAndSend(t *testing.T) {
	alice := newTestNode(t)
	bob := newTestNode(t)

	if _, err := alice.CreateGroup("team"); err != nil {
		t.Fatalf("alice.CreateGroup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.AdvertiseGroup(ctx, "team", bob.Address()); err != nil {
		t.Fatalf("AdvertiseGroup: %v", err)
	}

	// Bob should now have a group named "team" with the same token.
	var bobGroup *Group
	for i := 0; i < 200; i++ {
		bobGroup = bob.Group("team")
		if bobGroup != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if bobGroup == nil {
		t.Fatal("bob never received the ADVERTISEMENT")
	}

	aliceGroup := alice.Group("team")
	if bobGroup.Token != aliceGroup.Token {
		t.Fatalf("group token mismatch: alice=%s bob=%s", aliceGroup.Token, bobGroup.Token)
	}

	if err := alice.Send("team", "hello bob"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []*Message
	for i := 0; i < 200; i++ {
		got = bobGroup.Messages()
		if len(got) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatalf("bob received %d messages, want 1", len(got))
	}
	if got[0].Content != "hello bob" {
		t.Fatalf("message content = %q, want %q", got[0].Content, "hello bob")
	}
}

func TestForwardingRelaysToThirdPeerOnce(t *testing.T) {
	alice := newTestNode(t)
	bob := newTestNode(t)
	carol := newTestNode(t)

	if _, err := alice.CreateGroup("team"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.AdvertiseGroup(ctx, "team", bob.Address()); err != nil {
		t.Fatalf("advertise to bob: %v", err)
	}
	bobGroup := waitForGroup(t, bob, "team")

	// bob passes the group on to carol, so alice knows {bob}, bob knows
	// {alice, carol} and carol knows {bob}: alice's message can only reach
	// carol through bob's forward.
	if err := bob.AdvertiseGroup(ctx, "team", carol.Address()); err != nil {
		t.Fatalf("advertise to carol: %v", err)
	}
	carolGroup := waitForGroup(t, carol, "team")

	if err := alice.Send("team", "hi all"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForMessage(t, bobGroup, "hi all")
	waitForMessage(t, carolGroup, "hi all")

	// carol forwards the message back to bob, who has already seen its id;
	// give any duplicate time to land before counting.
	time.Sleep(200 * time.Millisecond)
	if n := countMessages(carolGroup, "hi all"); n != 1 {
		t.Fatalf("carol holds %d copies of the message, want 1", n)
	}
	if n := countMessages(bobGroup, "hi all"); n != 1 {
		t.Fatalf("bob holds %d copies of the message, want 1", n)
	}
}

func countMessages(g *Group, content string) int {
	n := 0
	for _, msg := range g.Messages() {
		if msg.Content == content {
			n++
		}
	}
	return n
}

func waitForGroup(t *testing.T, m *Model, name string) *Group {
	t.Helper()
	for i := 0; i < 200; i++ {
		if g := m.Group(name); g != nil {
			return g
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("group %q never appeared", name)
	return nil
}

func waitForMessage(t *testing.T, g *Group, content string) {
	t.Helper()
	if g == nil {
		t.Fatal("group is nil")
	}
	for i := 0; i < 200; i++ {
		for _, msg := range g.Messages() {
			if msg.Content == content {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("message %q never arrived", content)
}
