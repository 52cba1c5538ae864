// Package bus provides a small keyed publish/subscribe bus used to fan
// out device lifecycle events.
package bus

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

// Publisher publishes messages under a fixed key.
type Publisher[M any] func(ctx context.Context, msg M)

// Bus dispatches messages to subscribers. Subscribers that fall behind
// have messages dropped rather than blocking the dispatcher.
type Bus[K comparable, M any] struct {
	log   *zap.Logger
	ready chan struct{}

	ch   chan Message[K, M]
	subs *xsync.MapOf[chan Message[K, M], map[K]struct{}]
}

func New[K comparable, M any](log *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:   log,
		ready: make(chan struct{}),
		ch:    make(chan Message[K, M]),
		subs:  xsync.NewMapOf[chan Message[K, M], map[K]struct{}](),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-b.ch:
				b.dispatch(msg)
			}
		}
	}()
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) dispatch(msg Message[K, M]) {
	b.subs.Range(func(ch chan Message[K, M], keys map[K]struct{}) bool {
		if keys != nil {
			if _, ok := keys[msg.Key]; !ok {
				return true
			}
		}
		select {
		case ch <- msg:
		default:
			b.log.Warn("dropped bus message for slow subscriber")
		}
		return true
	})
}

// Publish delivers msg to every matching subscriber.
func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
	}
}

// CreatePublisher binds Publish to one key.
func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

// Subscribe returns a channel receiving messages for the given keys, or
// for all keys when none are given. The subscription ends with ctx; the
// channel is never closed.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	ch := make(chan Message[K, M], 64)
	var filter map[K]struct{}
	if len(keys) > 0 {
		filter = make(map[K]struct{}, len(keys))
		for _, k := range keys {
			filter[k] = struct{}{}
		}
	}
	b.subs.Store(ch, filter)
	go func() {
		<-ctx.Done()
		b.subs.Delete(ch)
	}()
	return ch
}
