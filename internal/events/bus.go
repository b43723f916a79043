// Package events is the in-process publish/subscribe surface that fans
// log, trade, and status events out to whatever is listening - the
// WebSocket hub, the notifier, the autonomous supervisor's news relay.
// Subscribers never block a publisher: each gets its own bounded queue
// and a slow subscriber simply drops events once it falls behind.
package events

import (
	"time"
)

// Kind is one of the fixed event kinds the bus carries.
type Kind string

const (
	KindBotStarted     Kind = "bot_started"
	KindBotStopped     Kind = "bot_stopped"
	KindBotStartFailed Kind = "bot_start_failed"
	KindTradeExecuted  Kind = "trade_executed"
	KindStatusUpdate   Kind = "status_update"
	KindLogMessage     Kind = "log_message"
	KindNewsShared     Kind = "news_shared"
)

// Event is one published message. Data is a map so downstream consumers
// (WebSocket JSON encoder, notifier templates) don't need a type switch
// per kind.
type Event struct {
	Kind      Kind                   `json:"kind"`
	BotID     string                 `json:"bot_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// queueDepth bounds each subscriber's backpressure queue. Once full, new
// events for that subscriber are dropped rather than blocking Publish.
const queueDepth = 256

type subscriber struct {
	ch     chan Event
	cancel chan struct{}
}

// Bus is the process-wide event fan-out. The zero value is not usable;
// construct with New.
type Bus struct {
	publish chan Event
	sub     chan subscription
	unsub   chan *subscriber
	done    chan struct{}
}

type subscription struct {
	kinds []Kind // empty means "all kinds"
	reply chan *subscriber
}

// New starts the bus's dispatch loop, which runs until Close is called.
// Every Subscribe-returned channel is closed when the bus stops.
func New() *Bus {
	b := &Bus{
		publish: make(chan Event, queueDepth),
		sub:     make(chan subscription),
		unsub:   make(chan *subscriber),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues an event for dispatch. Never blocks: if the internal
// dispatch queue itself is saturated the event is dropped, matching the
// "never blocks publishers" guarantee down to the bus's own ingress.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.publish <- e:
	default:
	}
}

// Subscription is a read handle a caller drains and eventually closes
// with Unsubscribe.
type Subscription struct {
	bus *Bus
	sub *subscriber
	C   <-chan Event
}

// Subscribe registers interest in the given kinds (or every kind, if none
// are given). Per-publisher order is preserved to this subscriber; across
// subscribers there is no ordering guarantee.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	reply := make(chan *subscriber, 1)
	select {
	case b.sub <- subscription{kinds: kinds, reply: reply}:
	case <-b.done:
		closedCh := make(chan Event)
		close(closedCh)
		return &Subscription{C: closedCh}
	}
	s := <-reply
	return &Subscription{bus: b, sub: s, C: s.ch}
}

// Unsubscribe stops delivery to this subscription and releases its queue.
func (s *Subscription) Unsubscribe() {
	if s.bus == nil || s.sub == nil {
		return
	}
	select {
	case s.bus.unsub <- s.sub:
	case <-s.bus.done:
	}
}

// Close shuts the bus down and closes every live subscriber channel.
func (b *Bus) Close() {
	close(b.done)
}

type registeredSub struct {
	kinds map[Kind]struct{}
	sub   *subscriber
}

func (b *Bus) run() {
	subs := make([]*registeredSub, 0)

	for {
		select {
		case <-b.done:
			for _, rs := range subs {
				close(rs.sub.ch)
			}
			return

		case req := <-b.sub:
			s := &subscriber{ch: make(chan Event, queueDepth), cancel: make(chan struct{})}
			rs := &registeredSub{sub: s}
			if len(req.kinds) > 0 {
				rs.kinds = make(map[Kind]struct{}, len(req.kinds))
				for _, k := range req.kinds {
					rs.kinds[k] = struct{}{}
				}
			}
			subs = append(subs, rs)
			req.reply <- s

		case target := <-b.unsub:
			for i, rs := range subs {
				if rs.sub == target {
					close(rs.sub.ch)
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}

		case e := <-b.publish:
			for _, rs := range subs {
				if rs.kinds != nil {
					if _, ok := rs.kinds[e.Kind]; !ok {
						continue
					}
				}
				select {
				case rs.sub.ch <- e:
				default:
					// Drop: this subscriber is behind and must never
					// block the publisher or other subscribers.
				}
			}
		}
	}
}

// LogMessage is a convenience publisher for the common "component logged
// something interesting" event.
func (b *Bus) LogMessage(botID, level, message string) {
	b.Publish(Event{
		Kind:  KindLogMessage,
		BotID: botID,
		Data: map[string]interface{}{
			"level":   level,
			"message": message,
		},
	})
}
