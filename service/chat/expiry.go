package chat

import (
	"context"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/safe"
)

// ExpirySweeper polls the store for messages whose disappearing timer has
// elapsed and instructs the broadcast engine to emit message_deleted for
// each, so every live member learns about the deletion without refetching.
type ExpirySweeper struct {
	s        *Server
	interval time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewExpirySweeper(s *Server, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ExpirySweeper{
		s:        s,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (e *ExpirySweeper) Start() {
	safe.Go(e.run)
}

func (e *ExpirySweeper) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *ExpirySweeper) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.SweepOnce()
		case <-e.stopCh:
			return
		}
	}
}

// SweepOnce runs a single expiry pass; exported so tests and operational
// tooling can trigger it directly.
func (e *ExpirySweeper) SweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := e.s.Store().DeleteExpiredMessages(ctx)
	if err != nil {
		logger.Errorf("[expiry] sweep failed: %v", err)
		return
	}
	if len(deleted) == 0 {
		return
	}
	logger.Infof("[expiry] removed %d expired messages", len(deleted))
	for _, d := range deleted {
		e.s.BroadcastToConversation(d.ConversationID, KindMessageDeleted, MessageDeletedPayload{
			MessageID:      d.MessageID,
			ConversationID: d.ConversationID,
		}, nil)
	}
}
