package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/factstore/internal/storage"
)

// Listener is a source of channel notifications, such as Postgres
// LISTEN/NOTIFY on *storage.DB.
type Listener interface {
	Listen(ctx context.Context, channels ...string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// Relay backoff after a failed wait on the Listener.
const (
	relayBackoffMin = 100 * time.Millisecond
	relayBackoffMax = 30 * time.Second
)

// subscriberBuffer is the number of events a slow subscriber may fall behind
// before it starts missing events.
const subscriberBuffer = 64

// Broker fans out fact and conflict notifications to SSE subscribers.
//
// With a Listener it relays Postgres notifications, so every server instance
// sees writes made by every other. Without one it serves as the in-process
// storage.Notifier for embedded stores.
type Broker struct {
	source Listener
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]channelSet
	closed      bool
}

// channelSet filters a subscription. nil means every channel.
type channelSet map[string]struct{}

func (s channelSet) wants(channel string) bool {
	if s == nil {
		return true
	}
	_, ok := s[channel]
	return ok
}

// NewBroker creates a broker. source may be nil. Call Start to begin relaying.
func NewBroker(source Listener, logger *slog.Logger) *Broker {
	return &Broker{
		source:      source,
		logger:      logger,
		subscribers: make(map[chan []byte]channelSet),
	}
}

// Start listens on every store channel and relays notifications until ctx is
// cancelled. It blocks, so call it in a goroutine. It returns immediately
// when the broker has no Listener.
func (b *Broker) Start(ctx context.Context) {
	if b.source == nil {
		return
	}
	if err := b.source.Listen(ctx, storage.Channels...); err != nil {
		b.logger.Error("broker: listen", "error", err)
		return
	}
	b.logger.Info("broker: listening for notifications", "channels", storage.Channels)

	backoff := relayBackoffMin
	for {
		channel, payload, err := b.source.WaitForNotification(ctx)
		if err == nil {
			backoff = relayBackoffMin
			b.broadcast(channel, payload)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("broker: notification error, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, relayBackoffMax)
	}
}

// Notify implements storage.Notifier by broadcasting directly to local
// subscribers.
func (b *Broker) Notify(_ context.Context, channel, payload string) error {
	b.broadcast(channel, payload)
	return nil
}

// Subscribe returns a channel that receives SSE-formatted events from the
// named channels, or from every channel when none are named. The channel is
// closed by Unsubscribe or Close, and is returned already closed after Close.
func (b *Broker) Subscribe(channels ...string) chan []byte {
	var filter channelSet
	if len(channels) > 0 {
		filter = make(channelSet, len(channels))
		for _, c := range channels {
			filter[c] = struct{}{}
		}
	}

	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = filter
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Close ends every open stream. The server calls it when shutdown begins,
// since event streams never go idle on their own.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	clear(b.subscribers)
}

// broadcast sends an event to every subscriber of channel. A subscriber whose
// buffer is full misses the event rather than stalling the others.
func (b *Broker) broadcast(channel, payload string) {
	event := formatSSE(channel, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subscribers {
		if !filter.wants(channel) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}

var (
	_ storage.Notifier = (*Broker)(nil)
	_ Listener         = (*storage.DB)(nil)
)
