package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Chase-Garrett/sealedchat/internal/protocol"
)

// ErrClosed is returned after the hub has stopped.
var ErrClosed = errors.New("fanout: hub closed")

const subscriberBuffer = 256

// subscriber is one listener on an address
type subscriber struct {
	address string
	send    chan protocol.Message
	done    chan struct{}
}

type delivery struct {
	address string
	msg     protocol.Message
}

// Hub is the in-process broker. One goroutine owns the subscription map;
// each subscriber has its own buffered channel and delivery goroutine, and a
// full buffer drops the message instead of blocking the publisher.
type Hub struct {
	subs       map[string]map[*subscriber]struct{}
	register   chan *subscriber
	unregister chan *subscriber
	forward    chan delivery
	quit       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	log        logrus.FieldLogger
}

// NewHub starts a hub.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		subs:       make(map[string]map[*subscriber]struct{}),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		forward:    make(chan delivery),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		log:        log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case s := <-h.register:
			set, ok := h.subs[s.address]
			if !ok {
				set = make(map[*subscriber]struct{})
				h.subs[s.address] = set
			}
			set[s] = struct{}{}
		case s := <-h.unregister:
			h.remove(s)
		case d := <-h.forward:
			// find listeners and hand the message over
			for s := range h.subs[d.address] {
				select {
				case s.send <- d.msg:
				default:
					h.log.WithField("address", d.address).Warn("subscriber buffer full, dropping message")
				}
			}
		case <-h.quit:
			for _, set := range h.subs {
				for s := range set {
					h.remove(s)
				}
			}
			return
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	set, ok := h.subs[s.address]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.address)
	}
	close(s.send)
}

// Publish hands msg to every current subscriber of address.
func (h *Hub) Publish(ctx context.Context, address string, msg protocol.Message) error {
	select {
	case h.forward <- delivery{address: address, msg: msg}:
		return nil
	case <-h.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers h for address until the subscription is cancelled.
func (h *Hub) Subscribe(address string, handler Handler) (Subscription, error) {
	s := &subscriber{
		address: address,
		send:    make(chan protocol.Message, subscriberBuffer),
		done:    make(chan struct{}),
	}
	select {
	case h.register <- s:
	case <-h.quit:
		return nil, ErrClosed
	}

	go func() {
		defer close(s.done)
		for msg := range s.send {
			handler(msg)
		}
	}()
	return &hubSubscription{hub: h, sub: s}, nil
}

// Close stops the hub and ends all subscriptions.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.quit)
	})
	<-h.stopped
	return nil
}

type hubSubscription struct {
	hub  *Hub
	sub  *subscriber
	once sync.Once
}

func (s *hubSubscription) Unsubscribe() error {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s.sub:
		case <-s.hub.stopped:
		}
		<-s.sub.done
	})
	return nil
}
