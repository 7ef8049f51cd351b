package broker

import (
	"context"
)

// broker code adapted from https://stackoverflow.com/questions/36417199/how-to-broadcast-message-using-channel
// which is licensed under Creative Commons CC BY-SA 4.0.

// Broker implements a fan-out system where multiple consumers can subscribe and receive published messages.
type Broker[T any] interface {
	// Publish dispatches a message to all subscribed receivers.  It blocks until every subscriber has accepted
	// the message or its buffer, or the broker's context is cancelled.
	Publish(T)
	// Subscribe returns a channel that will receive published messages.
	Subscribe() <-chan T
	// Unsubscribe stops sending messages and closes the channel.  Messages still buffered for the channel
	// are discarded.
	Unsubscribe(<-chan T)
}

type params struct {
	bufsize int
}

// WithSubscriberBuffer gives each subscription channel a buffer of n messages, so that a subscriber that
// reads in bursts does not hold up delivery to the others.
func WithSubscriberBuffer(n int) func(*params) {
	return func(p *params) {
		p.bufsize = n
	}
}

// broker implements Broker
type broker[T any] struct {
	ctx       context.Context
	bufsize   int
	publishCh chan T
	subCh     chan chan T
	unSubCh   chan (<-chan T)
}

// New starts a new broker, which runs until the context is cancelled.
func New[T any](ctx context.Context, mods ...func(*params)) Broker[T] {
	p := &params{}
	for _, mod := range mods {
		mod(p)
	}
	b := &broker[T]{
		ctx:       ctx,
		bufsize:   p.bufsize,
		publishCh: make(chan T),
		subCh:     make(chan chan T),
		unSubCh:   make(chan (<-chan T)),
	}
	go b.run()
	return b
}

func (b *broker[T]) run() {
	subs := make(map[<-chan T]chan T)
	for {
		select {
		case <-b.ctx.Done():
			return
		case msgCh := <-b.subCh:
			subs[msgCh] = msgCh
		case msgCh := <-b.unSubCh:
			realCh, ok := subs[msgCh]
			if ok {
				delete(subs, msgCh)
				close(realCh)
			}
		case msg := <-b.publishCh:
			for _, msgCh := range subs {
				select {
				case <-b.ctx.Done():
					return
				case msgCh <- msg:
				}
			}
		}
	}
}

func (b *broker[T]) Publish(msg T) {
	select {
	case <-b.ctx.Done():
	case b.publishCh <- msg:
	}
}

func (b *broker[T]) Subscribe() <-chan T {
	msgCh := make(chan T, b.bufsize)
	select {
	case <-b.ctx.Done():
		return nil
	case b.subCh <- msgCh:
		return msgCh
	}
}

func (b *broker[T]) Unsubscribe(msgCh <-chan T) {
	if msgCh == nil {
		return
	}
	// Drain concurrently so a pending Publish to this subscriber cannot deadlock against the unsubscribe.
	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
			}
		}
	}()
	select {
	case <-b.ctx.Done():
	case b.unSubCh <- msgCh:
	}
}
