package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// FederationChannel is the Redis pub/sub channel directory replicas use to
// exchange mutations.
const FederationChannel = "gossipchat:directory:sync"

// syncMessage is one replicated mutation, adapted from the teacher's
// lighthouse SyncMessage down to this system's much simpler Record type:
// last-writer-wins by the record's own ExpiresAt rather than a version
// counter, since a directory record has no independent version field.
type syncMessage struct {
	Op     string `json:"op"` // "register" or "deregister"
	Record Record `json:"record,omitempty"`
	Name   string `json:"name,omitempty"`
	NodeID string `json:"node_id"`
}

// Federation replicates registry mutations across multiple authoritative
// directory instances sharing one Redis deployment. It is entirely
// optional: a Registry with no Federation wired in behaves exactly like
// the single in-memory, JSON-snapshotted server the directory spec
// describes.
type Federation struct {
	logger *log.Logger
	rdb    *redis.Client
	nodeID string

	onRemoteRegister   func(Record)
	onRemoteDeregister func(string)
}

// NewFederation connects to redisAddr and subscribes to FederationChannel.
// nodeID distinguishes this replica's own publishes from messages it
// should apply (a replica ignores its own echoes).
func NewFederation(ctx context.Context, logger *log.Logger, redisAddr, nodeID string) (*Federation, error) {
	if logger == nil {
		logger = log.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		DialTimeout:  2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("directory: federation redis connection failed: %w", err)
	}

	f := &Federation{logger: logger, rdb: rdb, nodeID: nodeID}
	go f.subscribeLoop(ctx)
	return f, nil
}

func (f *Federation) publishRegister(record Record) {
	f.publish(syncMessage{Op: "register", Record: record, NodeID: f.nodeID})
}

func (f *Federation) publishDeregister(name string) {
	f.publish(syncMessage{Op: "deregister", Name: name, NodeID: f.nodeID})
}

func (f *Federation) publish(msg syncMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Printf("[DirectoryFederation] failed to encode sync message: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.rdb.Publish(ctx, FederationChannel, data).Err(); err != nil {
		f.logger.Printf("[DirectoryFederation] failed to publish: %v", err)
	}
}

func (f *Federation) subscribeLoop(ctx context.Context) {
	sub := f.rdb.Subscribe(ctx, FederationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.handleMessage(msg.Payload)
		}
	}
}

func (f *Federation) handleMessage(payload string) {
	var msg syncMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		f.logger.Printf("[DirectoryFederation] malformed sync message: %v", err)
		return
	}
	if msg.NodeID == f.nodeID {
		return
	}

	switch msg.Op {
	case "register":
		if f.onRemoteRegister != nil {
			f.onRemoteRegister(msg.Record)
		}
	case "deregister":
		if f.onRemoteDeregister != nil {
			f.onRemoteDeregister(msg.Name)
		}
	}
}
