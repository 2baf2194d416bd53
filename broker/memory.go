package broker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity. When a consumer
// falls this far behind, the oldest undelivered event is dropped so the
// publisher never blocks; consumers detect the gap via SequenceNo.
const subscriberBuffer = 256

// MemoryBroker is an in-process Broker for single-node deployments and
// tests. Subscribers are tracked per session id.
type MemoryBroker struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[int]*memorySubscription
	nextID   int
	closed   bool
}

// NewMemoryBroker creates an in-memory broker. A nil logger defaults to a
// nop logger.
func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		logger:   logger.With(zap.String("component", "memory_broker")),
		sessions: make(map[string]map[int]*memorySubscription),
	}
}

type memorySubscription struct {
	broker    *MemoryBroker
	sessionID string
	id        int
	ch        chan Event
	closeOnce sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.detach(s.sessionID, s.id)
		close(s.ch)
	})
	return nil
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(ctx context.Context, sessionID string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker closed")
	}

	for _, sub := range b.sessions[sessionID] {
		for {
			select {
			case sub.ch <- event:
			default:
				// Buffer full: drop the oldest event and retry. The gap is
				// visible to the consumer as a SequenceNo jump.
				select {
				case dropped := <-sub.ch:
					b.logger.Debug("dropped event for slow subscriber",
						zap.String("session_id", sessionID),
						zap.Uint64("sequence_no", dropped.SequenceNo),
					)
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}

	b.nextID++
	sub := &memorySubscription{
		broker:    b,
		sessionID: sessionID,
		id:        b.nextID,
		ch:        make(chan Event, subscriberBuffer),
	}

	if b.sessions[sessionID] == nil {
		b.sessions[sessionID] = make(map[int]*memorySubscription)
	}
	b.sessions[sessionID][sub.id] = sub

	return sub, nil
}

// Close implements Broker.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0)
	for _, perSession := range b.sessions {
		for _, sub := range perSession {
			subs = append(subs, sub)
		}
	}
	b.sessions = make(map[string]map[int]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
	return nil
}

func (b *MemoryBroker) detach(sessionID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if perSession, ok := b.sessions[sessionID]; ok {
		delete(perSession, id)
		if len(perSession) == 0 {
			delete(b.sessions, sessionID)
		}
	}
}
