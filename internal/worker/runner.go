// Package worker drains the conversation-log stream into the datastore.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/queue"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
)

// Options configure the background worker process.
type Options struct {
	Store  store.EventStore
	Queue  *queue.Consumer
	Logger *log.Logger
}

// Runner consumes queued conversation-log entries and persists them.
type Runner struct {
	store  store.EventStore
	queue  *queue.Consumer
	logger *log.Logger
}

// New creates a new Runner.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Runner{
		store:  opts.Store,
		queue:  opts.Queue,
		logger: opts.Logger,
	}
}

// Run blocks until ctx is cancelled, persisting each queued entry. A failed
// insert leaves the message unacked so another consumer can retry it.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	r.logger.Println("conversation-log worker started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("worker shutting down")
			return ctx.Err()
		default:
		}

		msg, id, err := r.queue.Next(ctx)
		if err != nil {
			if id != "" {
				// Undecodable payload; ack it so it does not wedge the group.
				r.logger.Printf("worker: dropping undecodable message %s: %v", id, err)
				_ = r.queue.Ack(ctx, id)
				continue
			}
			r.logger.Printf("worker: failed to read stream: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		if err := r.store.LogConversation(ctx, &msg.Entry); err != nil {
			r.logger.Printf("worker: failed to persist conversation log %s: %v", msg.Entry.ID, err)
			continue
		}
		if err := r.queue.Ack(ctx, id); err != nil {
			r.logger.Printf("worker: failed to ack %s: %v", id, err)
		}
	}
}
