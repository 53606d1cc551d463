package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/vecina/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, domain.EventTransactionCreated, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.EventTransactionCreated, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != domain.EventTransactionCreated {
				t.Errorf("expected topic %s, got %s", domain.EventTransactionCreated, msg.Topic)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Errorf("expected envelope id and timestamp, got %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var completed, failed atomic.Int32

		bus.Subscribe(ctx, domain.EventAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.EventAssessmentFailed, func(ctx context.Context, msg *domain.Message) error {
			failed.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.EventAssessmentCompleted, []byte("ok"))
		waitFor(t, func() bool { return completed.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		if failed.Load() != 0 {
			t.Errorf("failed topic should receive 0 messages, got %d", failed.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("data")); err == nil {
			t.Error("expected error for empty topic")
		}

		_, err := bus.Subscribe(ctx, "", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}

		// A second call is harmless.
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("second unsubscribe failed: %v", err)
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	// First message occupies the handler, second fills the buffer.
	bus.Publish(ctx, "slow.topic", []byte("1"))
	<-started
	bus.Publish(ctx, "slow.topic", []byte("2"))
	bus.Publish(ctx, "slow.topic", []byte("3"))

	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped delivery, got %d", bus.Dropped())
	}
	close(release)
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestMakeSubject(t *testing.T) {
	if got := makeSubject(domain.EventAssessmentCompleted); got != "vecina.assessment.completed" {
		t.Errorf("expected topic to be used as-is, got %s", got)
	}
	if got := makeSubject("custom"); got != "vecina.custom" {
		t.Errorf("expected prefixed subject, got %s", got)
	}
}

func TestNATSOptions(t *testing.T) {
	apply := func(cfg domain.EventBusConfig) nats.Options {
		o := nats.GetDefaultOptions()
		for _, opt := range natsOptions(withNATSDefaults(cfg)) {
			if err := opt(&o); err != nil {
				t.Fatalf("option failed: %v", err)
			}
		}
		return o
	}

	t.Run("defaults", func(t *testing.T) {
		o := apply(domain.EventBusConfig{})
		if o.Name != "vecina" {
			t.Errorf("name = %q", o.Name)
		}
		if o.MaxReconnect != 10 || o.ReconnectWait != 5*time.Second {
			t.Errorf("reconnect = %d/%v", o.MaxReconnect, o.ReconnectWait)
		}
		if o.ReconnectBufSize != 8*1024*1024 {
			t.Errorf("reconnect buffer = %d", o.ReconnectBufSize)
		}
		if o.Token != "" {
			t.Error("token must not be set without config")
		}
		// connection level errors arrive without a subscription
		o.AsyncErrorCB(nil, nil, errors.New("slow consumer"))
	})

	t.Run("token", func(t *testing.T) {
		o := apply(domain.EventBusConfig{NATSToken: "s3cret", NATSMaxReconnects: 2, NATSReconnectWait: 1})
		if o.Token != "s3cret" {
			t.Errorf("token = %q", o.Token)
		}
		if o.MaxReconnect != 2 || o.ReconnectWait != time.Second {
			t.Errorf("reconnect = %d/%v", o.MaxReconnect, o.ReconnectWait)
		}
	})
}

func TestNATSDelivery(t *testing.T) {
	var got []*domain.Message
	deliver := natsDelivery(context.Background(), func(ctx context.Context, msg *domain.Message) error {
		got = append(got, msg)
		return errors.New("handler failed")
	})

	data, err := json.Marshal(newMessage(domain.EventAssessmentCompleted, []byte(`{"token":"t-1"}`)))
	if err != nil {
		t.Fatal(err)
	}
	deliver(&nats.Msg{Subject: "vecina.assessment.completed", Data: data})
	deliver(&nats.Msg{Subject: "vecina.assessment.completed", Data: []byte("not json")})

	if len(got) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(got))
	}
	if got[0].Topic != domain.EventAssessmentCompleted || string(got[0].Payload) != `{"token":"t-1"}` {
		t.Errorf("unexpected message: %+v", got[0])
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestNATSBus(t *testing.T) {
	url := os.Getenv("VECINA_TEST_NATS_URL")
	if url == "" {
		t.Skip("VECINA_TEST_NATS_URL not set")
	}

	bus, err := NewNATSBus(domain.EventBusConfig{NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	got := make(chan *domain.Message, 1)

	if _, err := bus.Subscribe(ctx, domain.EventAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	if err := bus.Publish(ctx, domain.EventAssessmentCompleted, []byte(`{"token":"t"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg.Payload) != `{"token":"t"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for NATS message")
	}
}
