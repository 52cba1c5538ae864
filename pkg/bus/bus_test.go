package bus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, int](zap.NewNop())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-b.Ready()

	all := b.Subscribe(ctx)
	onlyA := b.Subscribe(ctx, "a")

	b.Publish(ctx, "a", 1)
	b.Publish(ctx, "b", 2)

	got := <-all
	if got.Key != "a" || got.Message != 1 {
		t.Fatalf("got %+v", got)
	}
	got = <-all
	if got.Key != "b" || got.Message != 2 {
		t.Fatalf("got %+v", got)
	}

	got = <-onlyA
	if got.Key != "a" {
		t.Fatalf("filtered subscriber received %+v", got)
	}
	select {
	case got = <-onlyA:
		t.Fatalf("filtered subscriber received %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeBeforeStart(t *testing.T) {
	// Services subscribe before the owning service starts its bus, so
	// the very first published message must already reach them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, int](zap.NewNop())
	sub := b.Subscribe(ctx)

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	b.Publish(ctx, "dev0", 1)

	select {
	case msg := <-sub:
		if msg.Key != "dev0" || msg.Message != 1 {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("early subscriber missed the first message")
	}
}

func TestPublisherBindsKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, string](zap.NewNop())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}

	sub := b.Subscribe(ctx, "dev0")
	pub := b.CreatePublisher("dev0")
	pub(ctx, "connected")

	select {
	case msg := <-sub:
		if msg.Message != "connected" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
