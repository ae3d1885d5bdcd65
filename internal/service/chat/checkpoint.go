package chat

import (
	"c4chat/internal/logger"
	"c4chat/internal/metrics"
	"c4chat/internal/repository/db"
	"c4chat/internal/service/llm"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// checkpointer persists partial output of one message at a bounded rate and
// aborts the stream once the message is stopped or deleted
type checkpointer struct {
	ctx       context.Context
	db        db.Database
	messageID string
	throttle  *rate.Sometimes

	mu     sync.Mutex
	latest llm.Completion
}

func newCheckpointer(ctx context.Context, database db.Database, messageID string, interval time.Duration) *checkpointer {
	return &checkpointer{
		ctx:       ctx,
		db:        database,
		messageID: messageID,
		throttle:  &rate.Sometimes{Interval: interval},
	}
}

// onProgress is the relay's progress callback
func (c *checkpointer) onProgress(state llm.Completion, abort func()) {
	c.mu.Lock()
	c.latest = state
	c.mu.Unlock()

	c.throttle.Do(func() {
		c.write(state, abort)
	})
}

func (c *checkpointer) write(state llm.Completion, abort func()) {
	log := logger.Log.WithField("message_id", c.messageID)

	checkpoint, err := c.db.CheckpointMessage(c.ctx, c.messageID, state.Text, state.Reasoning)
	if err != nil {
		metrics.CheckpointFailures.Inc()
		log.WithError(err).Warn("Checkpoint write failed, continuing stream")
		return
	}
	if !checkpoint.Exists {
		log.Info("Message deleted during generation, aborting stream")
		abort()
		return
	}
	if checkpoint.Status != "" {
		log.WithField("status", checkpoint.Status).Info("Message finished externally, aborting stream")
		abort()
		return
	}
	metrics.CheckpointWrites.Inc()
}

// snapshot returns the most recent state seen, written or not
func (c *checkpointer) snapshot() llm.Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
