package chanreader

import (
	"context"
	"github.com/ghjm/mroute6/pkg/x/broker"
	log "github.com/sirupsen/logrus"
	"io"
)

// Publisher fans out each packet read from a reader to any number of subscribers.  Packets read while there
// are no subscribers are discarded.
type Publisher struct {
	broker broker.Broker[[]byte]
	done   chan struct{}
}

func NewPublisher(ctx context.Context, reader io.ReadCloser, mods ...func(chanReader *ChanReader)) *Publisher {
	mods = append([]func(*ChanReader){WithErrorFunc(func(e error) {
		log.Errorf("packet read error: %s", e)
	})}, mods...)
	cr := New(ctx, reader, mods...)
	p := &Publisher{
		broker: broker.New[[]byte](ctx, broker.WithSubscriberBuffer(cr.subBuffer)),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for packet := range cr.ReadChan() {
			p.broker.Publish(packet)
		}
	}()
	return p
}

// NewBrokerPublisher returns a Publisher fed by calling Publish directly rather than from a reader
func NewBrokerPublisher(ctx context.Context, subBuffer int) *Publisher {
	p := &Publisher{
		broker: broker.New[[]byte](ctx, broker.WithSubscriberBuffer(subBuffer)),
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		close(p.done)
	}()
	return p
}

// Publish sends a packet to all current subscribers
func (p *Publisher) Publish(packet []byte) {
	p.broker.Publish(packet)
}

func (p *Publisher) SubscribePackets() <-chan []byte {
	return p.broker.Subscribe()
}

func (p *Publisher) UnsubscribePackets(pktCh <-chan []byte) {
	p.broker.Unsubscribe(pktCh)
}

// Done is closed once the publisher has stopped delivering packets
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}
