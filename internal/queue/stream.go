// Package queue moves conversation-log entries through a Redis Stream so
// request handlers never block on audit persistence.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
)

// ConversationLogMessage wraps the payload pushed through Redis.
type ConversationLogMessage struct {
	Entry store.ConversationLog `json:"entry"`
}

// Producer publishes conversation-log entries onto a Redis Stream.
type Producer struct {
	client redis.UniversalClient
	stream string
}

// NewProducer constructs a producer for the provided stream.
func NewProducer(client redis.UniversalClient, stream string) *Producer {
	if stream == "" {
		stream = "laiive:conversation-log"
	}
	return &Producer{client: client, stream: stream}
}

// Enqueue pushes one conversation-log entry to the stream.
func (p *Producer) Enqueue(ctx context.Context, entry store.ConversationLog) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("queue producer not configured")
	}
	if entry.ID == "" {
		entry.ID = store.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ConversationLogMessage{Entry: entry})
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": data,
		},
	}).Err()
}

// Consumer pulls conversation-log entries from a stream consumer group.
type Consumer struct {
	client   redis.UniversalClient
	stream   string
	group    string
	name     string
	blockDur time.Duration
}

// NewConsumer creates a consumer bound to a stream + group.
func NewConsumer(client redis.UniversalClient, stream, group, name string) *Consumer {
	if stream == "" {
		stream = "laiive:conversation-log"
	}
	if group == "" {
		group = "conversation-loggers"
	}
	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		name:     name,
		blockDur: 5 * time.Second,
	}
}

// EnsureGroup ensures the consumer group exists.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("queue consumer not configured")
	}
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Next fetches the next message from the stream (blocking up to blockDur).
func (c *Consumer) Next(ctx context.Context) (*ConversationLogMessage, string, error) {
	if c == nil || c.client == nil {
		return nil, "", fmt.Errorf("queue consumer not configured")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    c.blockDur,
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["data"]
			if !ok {
				continue
			}
			bytes, ok := raw.(string)
			if !ok {
				continue
			}
			var payload ConversationLogMessage
			if err := json.Unmarshal([]byte(bytes), &payload); err != nil {
				return nil, msg.ID, err
			}
			return &payload, msg.ID, nil
		}
	}
	return nil, "", nil
}

// Ack confirms processing of a message.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if c == nil || c.client == nil || id == "" {
		return nil
	}
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}
