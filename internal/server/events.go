package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// EventType names what happened in the review queue.
type EventType string

const (
	EventAutoMerged        EventType = "merge.auto"
	EventApprovedMerge     EventType = "merge.approved"
	EventCandidateQueued   EventType = "candidate.pending"
	EventCandidateRejected EventType = "candidate.rejected"
)

var eventTypes = map[EventType]bool{
	EventAutoMerged:        true,
	EventApprovedMerge:     true,
	EventCandidateQueued:   true,
	EventCandidateRejected: true,
}

const (
	eventBuffer  = 256
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

// Event is one websocket message. Exactly one of Merge and Candidate is
// set. Seq increases by one per event, so a client can tell when it
// missed some.
type Event struct {
	Seq       uint64            `json:"seq"`
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Merge     *MergePayload     `json:"merge,omitempty"`
	Candidate *CandidatePayload `json:"candidate,omitempty"`
}

// MergePayload summarises an executed merge.
type MergePayload struct {
	EventID              string  `json:"event_id"`
	PrimaryID            string  `json:"primary_id"`
	AbsorbedID           string  `json:"absorbed_id"`
	AbsorbedName         string  `json:"absorbed_name"`
	Similarity           float64 `json:"similarity"`
	Reason               string  `json:"reason,omitempty"`
	CandidateID          string  `json:"candidate_id,omitempty"`
	Conflicts            int     `json:"conflicts"`
	TransferredRelations int     `json:"transferred_relations"`
}

// CandidatePayload describes a candidate entering or leaving the queue.
// Names and similarity are empty for rejections.
type CandidatePayload struct {
	ID          string  `json:"id"`
	EntityAID   string  `json:"entity_a_id,omitempty"`
	EntityAName string  `json:"entity_a_name,omitempty"`
	EntityBID   string  `json:"entity_b_id,omitempty"`
	EntityBName string  `json:"entity_b_name,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Category    string  `json:"category,omitempty"`
}

// frame is an encoded event queued for fan-out.
type frame struct {
	typ  EventType
	data []byte
}

// subscriber is a connection receiving a filtered event stream.
type subscriber interface {
	outbox() chan []byte
	wants(EventType) bool
	close()
}

// EventHub streams review-queue events to websocket clients. It is also
// the reconcile.AuditSink that reports merges.
type EventHub struct {
	seq        atomic.Uint64
	frames     chan frame
	register   chan subscriber
	unregister chan subscriber
	origins    []string

	mu          sync.RWMutex
	subscribers map[subscriber]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEventHub creates a hub accepting connections from the given origin
// host patterns, e.g. "localhost:6464".
func NewEventHub(origins ...string) *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		frames:      make(chan frame, eventBuffer),
		register:    make(chan subscriber),
		unregister:  make(chan subscriber),
		origins:     origins,
		subscribers: make(map[subscriber]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run fans queued events out to subscribers until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			n := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("server: event subscriber connected (total: %d)", n)

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.outbox())
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("server: event subscriber disconnected (total: %d)", n)

		case f := <-h.frames:
			h.mu.Lock()
			for s := range h.subscribers {
				if !s.wants(f.typ) {
					continue
				}
				select {
				case s.outbox() <- f.data:
				default:
					log.Printf("server: dropping slow event subscriber")
					delete(h.subscribers, s)
					close(s.outbox())
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and closes every subscriber.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for s := range h.subscribers {
		close(s.outbox())
		s.close()
	}
	h.subscribers = make(map[subscriber]struct{})
	h.mu.Unlock()
}

// publish stamps ev and queues it. It never blocks; when the queue is
// full the event is dropped and subscribers see a gap in Seq.
func (h *EventHub) publish(ev Event) {
	ev.Seq = h.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("server: encode %s event: %v", ev.Type, err)
		return
	}
	select {
	case h.frames <- frame{typ: ev.Type, data: data}:
	default:
		log.Printf("server: event queue full, dropping %s #%d", ev.Type, ev.Seq)
	}
}

// RecordMerge publishes an executed merge as merge.auto or merge.approved.
func (h *EventHub) RecordMerge(_ context.Context, e *types.MergeEvent) error {
	typ := EventApprovedMerge
	if e.Auto {
		typ = EventAutoMerged
	}
	h.publish(Event{
		Type: typ,
		At:   e.CreatedAt,
		Merge: &MergePayload{
			EventID:              e.ID,
			PrimaryID:            e.PrimaryID,
			AbsorbedID:           e.AbsorbedID,
			AbsorbedName:         e.AbsorbedName,
			Similarity:           e.Similarity,
			Reason:               e.Reason,
			CandidateID:          e.CandidateID,
			Conflicts:            len(e.Conflicts),
			TransferredRelations: e.TransferredRelations,
		},
	})
	return nil
}

// CandidatesQueued publishes one candidate.pending event per candidate.
func (h *EventHub) CandidatesQueued(cands []*types.MergeCandidate) {
	for _, c := range cands {
		p := &CandidatePayload{
			ID:          c.ID,
			EntityAID:   c.EntityAID,
			EntityAName: c.EntityAName,
			EntityBID:   c.EntityBID,
			EntityBName: c.EntityBName,
			Similarity:  c.Similarity,
		}
		if c.Analysis != nil {
			p.Category = string(c.Analysis.Category)
		}
		h.publish(Event{Type: EventCandidateQueued, At: c.CreatedAt, Candidate: p})
	}
}

// CandidateRejected publishes a candidate.rejected event.
func (h *EventHub) CandidateRejected(id string) {
	h.publish(Event{Type: EventCandidateRejected, Candidate: &CandidatePayload{ID: id}})
}

func (h *EventHub) add(s subscriber) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

func (h *EventHub) remove(s subscriber) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// parseEventTypes reads a comma-separated ?types= filter. An empty filter
// subscribes to everything.
func parseEventTypes(raw string) (map[EventType]bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	want := make(map[EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		t := EventType(strings.TrimSpace(part))
		if !eventTypes[t] {
			return nil, fmt.Errorf("%w: unknown event type %q", storage.ErrInvalidInput, t)
		}
		want[t] = true
	}
	return want, nil
}

// ServeHTTP upgrades GET /ws/events?types=merge.auto,candidate.pending to
// a websocket stream.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	c := &wsSubscriber{hub: h, conn: conn, send: make(chan []byte, clientBuffer), filter: filter}
	h.add(c)

	go c.writeLoop()
	go c.readLoop()
}

// wsSubscriber is a websocket client with an optional event filter.
type wsSubscriber struct {
	hub    *EventHub
	conn   *websocket.Conn
	send   chan []byte
	filter map[EventType]bool

	closeOnce sync.Once
}

func (c *wsSubscriber) outbox() chan []byte { return c.send }

func (c *wsSubscriber) wants(t EventType) bool {
	return c.filter == nil || c.filter[t]
}

func (c *wsSubscriber) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (c *wsSubscriber) writeLoop() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(c.hub.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			log.Printf("server: websocket write failed: %v", err)
			return
		}
	}
}

// readLoop discards client frames; a read error means the client left.
func (c *wsSubscriber) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			return
		}
	}
}
