package service

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"
)

/*
Broker fans JSON events out to every subscribed server-sent events client.
Each event is written as a single line:

data: {json}\n\n
*/
type Broker struct {
	mu        sync.RWMutex
	clients   map[chan []byte]struct{}
	closed    bool
	heartbeat time.Duration
}

func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	return &Broker{
		clients:   make(map[chan []byte]struct{}),
		heartbeat: heartbeat,
	}
}

/*
Subscribe registers a client. The channel closes when the broker closes or
the returned cancel func runs. Subscribing to a closed broker returns a
closed channel.
*/
func (broker *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 8)

	broker.mu.Lock()
	defer broker.mu.Unlock()

	if broker.closed {
		close(ch)
		return ch, func() {}
	}

	broker.clients[ch] = struct{}{}

	return ch, func() { broker.remove(ch) }
}

/*
Stream writes events to w until the subscription ends or a flush fails,
which is how a disconnected client shows up.
*/
func (broker *Broker) Stream(w *bufio.Writer) {
	events, cancel := broker.Subscribe()
	defer cancel()

	ticker := time.NewTicker(broker.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, open := <-events:
			if !open {
				return
			}
			_, _ = w.WriteString("data: ")
			_, _ = w.Write(msg)
			_, _ = w.WriteString("\n\n")
		case <-ticker.C:
			_, _ = w.WriteString(": heartbeat\n\n")
		}

		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Broadcast drops the event for clients whose buffer is full.
func (broker *Broker) Broadcast(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}

	broker.mu.RLock()
	defer broker.mu.RUnlock()

	if broker.closed {
		return nil
	}

	for ch := range broker.clients {
		select {
		case ch <- msg:
		default:
		}
	}

	return nil
}

func (broker *Broker) Subscribers() int {
	broker.mu.RLock()
	defer broker.mu.RUnlock()
	return len(broker.clients)
}

// Close disconnects every client and refuses new subscriptions.
func (broker *Broker) Close() {
	broker.mu.Lock()
	defer broker.mu.Unlock()

	if broker.closed {
		return
	}

	broker.closed = true

	for ch := range broker.clients {
		close(ch)
	}

	broker.clients = map[chan []byte]struct{}{}
}

func (broker *Broker) remove(ch chan []byte) {
	broker.mu.Lock()
	defer broker.mu.Unlock()

	if _, ok := broker.clients[ch]; ok {
		delete(broker.clients, ch)
		close(ch)
	}
}
