package recordstore

import (
	"log/slog"
	"sync"

	"github.com/avoronov/modelfetch/internal/domain"
)

const subscriberBuffer = 64

// Bus fans change events out to subscribers. Each subscriber gets its own
// buffered channel; a subscriber that falls behind has events dropped
// rather than blocking store mutations.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Event
	logger *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes
// the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan domain.Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"subscriber", id,
				"event_type", ev.Type,
				"model_file_id", ev.Item.ID,
			)
		}
	}
}
