// Package hub is the change-notification broker: an actor goroutine fanning
// published values out to the subscribers of a topic (a session ID).
package hub

import "context"

type HubMsg interface{ isHubMsg() }

type Subscribe[T any] struct {
	Topic string
	Fn    func(T)
	Reply chan int
}

type Unsubscribe struct {
	Topic string
	ID    int
}

type Publish[T any] struct {
	Topic string
	Value T
}

type CountSubscribers struct {
	Topic string
	Reply chan int
}

type ShutdownHub struct{}

func (Subscribe[T]) isHubMsg()     {}
func (Unsubscribe) isHubMsg()      {}
func (Publish[T]) isHubMsg()       {}
func (CountSubscribers) isHubMsg() {}
func (ShutdownHub) isHubMsg()      {}

// Hub delivers values in publish order. Subscriber callbacks run on the hub
// goroutine; they must not block or call back into the hub.
type Hub[T any] struct {
	inbox  chan HubMsg
	subs   map[string]map[int]func(T)
	nextID int
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub[T any](parent context.Context) *Hub[T] {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub[T]{
		inbox:  make(chan HubMsg, 64),
		subs:   make(map[string]map[int]func(T)),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub[T]) Inbox() chan<- HubMsg { return h.inbox }

// Subscribe registers fn for topic and returns the matching unsubscribe func.
func (h *Hub[T]) Subscribe(topic string, fn func(T)) func() {
	reply := make(chan int, 1)
	if !h.send(Subscribe[T]{Topic: topic, Fn: fn, Reply: reply}) {
		return func() {}
	}
	var id int
	select {
	case id = <-reply:
	case <-h.ctx.Done():
		return func() {}
	}
	return func() { h.send(Unsubscribe{Topic: topic, ID: id}) }
}

func (h *Hub[T]) Publish(topic string, v T) {
	h.send(Publish[T]{Topic: topic, Value: v})
}

func (h *Hub[T]) Subscribers(topic string) int {
	reply := make(chan int, 1)
	if !h.send(CountSubscribers{Topic: topic, Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.ctx.Done():
		return 0
	}
}

func (h *Hub[T]) Close() { h.send(ShutdownHub{}) }

func (h *Hub[T]) send(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub[T]) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe[T]:
				h.nextID++
				if h.subs[msg.Topic] == nil {
					h.subs[msg.Topic] = make(map[int]func(T))
				}
				h.subs[msg.Topic][h.nextID] = msg.Fn
				msg.Reply <- h.nextID

			case Unsubscribe:
				delete(h.subs[msg.Topic], msg.ID)
				if len(h.subs[msg.Topic]) == 0 {
					delete(h.subs, msg.Topic)
				}

			case Publish[T]:
				for _, fn := range h.subs[msg.Topic] {
					fn(msg.Value)
				}

			case CountSubscribers:
				msg.Reply <- len(h.subs[msg.Topic])

			case ShutdownHub:
				clear(h.subs)
				h.cancel()
				return
			}
		}
	}
}
