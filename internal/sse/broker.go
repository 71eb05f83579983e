// Package sse serves the change feed as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/keloia/internal/events"
)

// RefreshEvent is sent at most once per throttle interval after change
// events, for clients that simply refetch everything.
const RefreshEvent = "refresh"

const (
	clientBuffer     = 64
	historySize      = 128
	defaultHeartbeat = 25 * time.Second
	retryMillis      = 3000
)

// frame is one encoded SSE message. Change frames carry a sequence id so a
// reconnecting client can resume with Last-Event-ID.
type frame struct {
	id  uint64
	typ string
	raw []byte
}

func newFrame(id uint64, typ string, data []byte) frame {
	var sb strings.Builder
	if id > 0 {
		fmt.Fprintf(&sb, "id: %d\n", id)
	}
	fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", typ, data)
	return frame{id: id, typ: typ, raw: []byte(sb.String())}
}

type subscriber struct {
	ch chan []byte
	// types holds event type prefixes; empty accepts everything.
	types []string
	// after replays buffered frames with a larger id on subscribe.
	after uint64
}

// wants reports whether typ matches one of the prefixes, either exactly or
// as a dotted family ("task" matches "task.moved"). Refresh always passes.
func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 || typ == RefreshEvent {
		return true
	}
	for _, p := range s.types {
		if typ == p || strings.HasPrefix(typ, p+".") {
			return true
		}
	}
	return false
}

// Broker fans change events out to connected clients.
//
// A single goroutine owns the client set, the replay history and the
// refresh throttle. Public methods talk to it over channels.
type Broker struct {
	refreshMin time.Duration
	heartbeat  time.Duration

	subscribeCh   chan *subscriber
	unsubscribeCh chan chan []byte
	changeCh      chan events.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits a refresh event at most once per
// refreshThrottle.
func NewBroker(refreshThrottle time.Duration) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}

	b := &Broker{
		refreshMin:    refreshThrottle,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan *subscriber),
		unsubscribeCh: make(chan chan []byte),
		changeCh:      make(chan events.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscriber)
	history := make([]frame, 0, historySize)
	var seq uint64
	var lastRefresh time.Time

	send := func(s *subscriber, f frame) {
		if !s.wants(f.typ) {
			return
		}
		select {
		case s.ch <- f.raw:
		default:
			// Slow client; it will resync on the next refresh.
		}
	}
	broadcast := func(f frame) {
		for _, s := range clients {
			send(s, f)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			clients[s.ch] = s
			if s.after > 0 {
				for _, f := range history {
					if f.id > s.after {
						send(s, f)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.changeCh:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq++
			f := newFrame(seq, ev.Type, data)
			if len(history) == historySize {
				copy(history, history[1:])
				history = history[:historySize-1]
			}
			history = append(history, f)
			broadcast(f)

			now := time.Now()
			if now.Sub(lastRefresh) >= b.refreshMin {
				lastRefresh = now
				broadcast(newFrame(0, RefreshEvent, []byte("{}")))
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// subscribe registers a client. The returned channel is closed on
// unsubscribe or Close.
func (b *Broker) subscribe(types []string, after uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- &subscriber{ch: ch, types: types, after: after}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

func (b *Broker) unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Notify implements events.Notifier. It never blocks on slow clients.
func (b *Broker) Notify(ev events.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP streams the feed. The optional types query parameter is a
// comma-separated list of type prefixes (types=task,doc.deleted). A
// Last-Event-ID header resumes after that sequence number when the frames
// are still buffered.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		after = n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.subscribe(types, after)
	defer b.unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
