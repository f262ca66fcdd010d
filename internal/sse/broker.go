// Package sse streams tag events to browser clients as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// IndexUpdated follows bursts of tag events, at most once per throttle interval.
const IndexUpdated = "index.updated"

// keepAlive is how often an idle stream receives a comment line.
var keepAlive = 25 * time.Second

// TagEvent is one change to the tags of a file.
type TagEvent struct {
	Kind string `json:"-"`
	Path string `json:"path"`
}

// Broker fans tag events out to SSE clients. One goroutine owns the client
// set, the event sequence and the index.updated throttle; the exported
// methods talk to it over channels.
type Broker struct {
	indexMin time.Duration

	joinCh  chan chan []byte
	leaveCh chan chan []byte
	eventCh chan TagEvent
	countCh chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. indexThrottle is the minimum gap between two
// index.updated events; a non-positive value means two seconds.
func NewBroker(indexThrottle time.Duration) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}
	b := &Broker{
		indexMin: indexThrottle,
		joinCh:   make(chan chan []byte),
		leaveCh:  make(chan chan []byte),
		eventCh:  make(chan TagEvent, 256),
		countCh:  make(chan chan int),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run()
	return b
}

// hub is the state owned by the run loop.
type hub struct {
	clients   map[chan []byte]struct{}
	seq       uint64
	lastIndex time.Time
	pending   *time.Timer
}

// frame renders one SSE message with a monotonically increasing id.
func (h *hub) frame(kind string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	h.seq++
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(h.seq, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(kind)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

func (h *hub) send(kind string, data any) {
	msg := h.frame(kind, data)
	if msg == nil {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Slow client; drop rather than stall every other stream.
		}
	}
}

// index sends index.updated now, or arms a trailing send when the last one
// was too recent. It returns the channel of the armed timer, if any.
func (h *hub) index(interval time.Duration) <-chan time.Time {
	if h.pending != nil {
		return h.pending.C
	}
	wait := interval - time.Since(h.lastIndex)
	if wait <= 0 {
		h.flushIndex()
		return nil
	}
	h.pending = time.NewTimer(wait)
	return h.pending.C
}

func (h *hub) flushIndex() {
	h.pending = nil
	h.lastIndex = time.Now()
	h.send(IndexUpdated, struct{}{})
}

func (b *Broker) run() {
	defer close(b.stopped)

	h := &hub{clients: make(map[chan []byte]struct{})}
	var trailing <-chan time.Time

	for {
		select {
		case <-b.stopCh:
			if h.pending != nil {
				h.pending.Stop()
			}
			for ch := range h.clients {
				close(ch)
			}
			return

		case ch := <-b.joinCh:
			h.clients[ch] = struct{}{}

		case ch := <-b.leaveCh:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}

		case ev := <-b.eventCh:
			h.send(ev.Kind, ev)
			trailing = h.index(b.indexMin)

		case <-trailing:
			trailing = nil
			h.flushIndex()

		case resp := <-b.countCh:
			resp <- len(h.clients)
		}
	}
}

// Close stops the broker and closes every client stream. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.joinCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leaveCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected streams.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
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

// PublishTagEvent broadcasts kind for path and schedules index.updated. Its
// signature matches tagservice.EventFunc.
func (b *Broker) PublishTagEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.eventCh <- TagEvent{Kind: kind, Path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(keepAlive)
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
