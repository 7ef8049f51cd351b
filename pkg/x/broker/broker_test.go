package broker

import (
	"context"
	"go.uber.org/goleak"
	"sync"
	"testing"
	"time"
)

func TestBrokerShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bctx, bcancel := context.WithCancel(ctx)
	b := New[string](bctx)
	noRecCh := b.Subscribe()
	go func() {
		for {
			select {
			case _, ok := <-noRecCh:
				if ok {
					t.Errorf("message should not have been received")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	bcancel()
	time.Sleep(10 * time.Millisecond)

	// Test that sending to a terminated broker is a no-op
	b.Publish("foo")

	// Test that subscribing to a terminated broker returns nil
	termSub := b.Subscribe()
	if termSub != nil {
		t.Errorf("subscribe to terminated broker returned a real channel")
	}
}

func TestBroker(t *testing.T) {
	defer goleak.VerifyNone(t)
	const numSubs = 20
	const numPackets = 50
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New[[]byte](ctx)
	subs := make([]<-chan []byte, numSubs)
	for i := range subs {
		subs[i] = b.Subscribe()
	}
	// deliver publishes numPackets packets and returns how many each subscriber received in order
	deliver := func(active int) []int {
		counts := make([]int, numSubs)
		wg := &sync.WaitGroup{}
		for i := 0; i < active; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for counts[i] < numPackets {
					pkt, ok := <-subs[i]
					if !ok {
						return
					}
					if int(pkt[0]) != counts[i] {
						t.Errorf("subscriber %d: expected packet %d, got %d", i, counts[i], pkt[0])
						return
					}
					counts[i]++
				}
			}(i)
		}
		for n := 0; n < numPackets; n++ {
			b.Publish([]byte{byte(n)})
		}
		wg.Wait()
		return counts
	}
	for i, c := range deliver(numSubs) {
		if c != numPackets {
			t.Errorf("subscriber %d got %d packets, expected %d", i, c, numPackets)
		}
	}
	for i := numSubs / 2; i < numSubs; i++ {
		b.Unsubscribe(subs[i])
	}
	counts := deliver(numSubs / 2)
	for i := 0; i < numSubs/2; i++ {
		if counts[i] != numPackets {
			t.Errorf("subscriber %d got %d packets after unsubscribes, expected %d", i, counts[i], numPackets)
		}
	}
	for i := numSubs / 2; i < numSubs; i++ {
		timer := time.NewTimer(time.Second)
		select {
		case _, ok := <-subs[i]:
			if ok {
				t.Errorf("unsubscribed channel %d received a packet", i)
			}
		case <-timer.C:
			t.Errorf("unsubscribed channel %d was not closed", i)
		}
		timer.Stop()
	}
	cancel()
}

func TestBrokerBuffered(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New[int](ctx, WithSubscriberBuffer(10))
	ch := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.Publish(i)
	}
	if len(ch) != 10 {
		t.Fatalf("expected 10 buffered messages, got %d", len(ch))
	}
	for i := 0; i < 10; i++ {
		v := <-ch
		if v != i {
			t.Fatalf("expected message %d, got %d", i, v)
		}
	}
	b.Publish(99)
	b.Unsubscribe(ch)
	b.Unsubscribe(nil)
	cancel()
	time.Sleep(10 * time.Millisecond)
}
