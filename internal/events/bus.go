package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe hub. Servers, mesh clients and
// the gateway publish lifecycle events on it; telemetry and the process
// event log subscribe.
//
// A nil *Bus is valid and drops everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscriber
	stopped  bool
	wg       sync.WaitGroup
}

type subscriber struct {
	name    string
	handler HandlerFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]subscriber)}
}

// Subscribe registers handler for eventType. name identifies it in logs and
// in Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], subscriber{name: name, handler: handler})
	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed")
}

// SubscribeAll registers handler for every listed event type.
func (b *Bus) SubscribeAll(types []EventType, name string, handler HandlerFunc) {
	for _, t := range types {
		b.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes the named handler from eventType.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.handlers[eventType]
	kept := current[:0:0]
	for _, s := range current {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	b.handlers[eventType] = kept
}

// Emit delivers event to every subscriber, each on its own goroutine.
func (b *Bus) Emit(ctx context.Context, event Event) {
	subs := b.snapshot(event.Type)
	if len(subs) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emitting event")

	for _, s := range subs {
		b.wg.Add(1)
		go func(s subscriber) {
			defer b.wg.Done()
			b.invoke(ctx, s, event)
		}(s)
	}
}

// EmitSync delivers event and waits for every subscriber. It returns the
// first handler error.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	subs := b.snapshot(event.Type)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, s := range subs {
		wg.Add(1)
		go func(s subscriber) {
			defer wg.Done()
			if err := b.invoke(ctx, s, event); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(s)
	}
	wg.Wait()
	return firstErr
}

// Stop rejects further events and waits for in-flight handlers.
func (b *Bus) Stop() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

func (b *Bus) snapshot(eventType EventType) []subscriber {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return nil
	}
	return append([]subscriber(nil), b.handlers[eventType]...)
}

func (b *Bus) invoke(ctx context.Context, s subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = s.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
	return err
}
