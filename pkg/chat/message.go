package chat

import "github.com/atvirokodosprendimai/gossipchat/pkg/wire"

// Message is one chat message held in a group's history.
type Message struct {
	Sender     wire.Address
	Content    string
	SentAt     float64
	ReceivedAt float64
}
