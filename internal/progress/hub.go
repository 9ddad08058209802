// Package progress fans out job state updates to zero or more observers. The
// hub is transport-agnostic: the SSE handler is one subscriber, a future
// websocket or push transport would be another. Delivery of intermediate
// updates is best effort; the most recent and the terminal update always
// reach a subscriber that stays connected, and clients can fall back to
// polling the job resource.
package progress

import (
	"sync"
	"time"

	"forge/internal/domain"
)

// Update is one observed state/progress sample for a job.
type Update struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Percent   int              `json:"progress"`
	Timestamp time.Time        `json:"timestamp"`
}

const subscriberBuffer = 16

// Stream is the publish/subscribe surface the orchestrator runs on: a Hub
// within one process, or a Relay when the API and worker run as separate
// binaries.
type Stream interface {
	Publish(Update)
	Subscribe(jobID string) (<-chan Update, func())
}

// Hub is an in-process publish/subscribe fan-out keyed by job id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Update
	last   map[string]Update
	nextID int
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]chan Update),
		last: make(map[string]Update),
	}
}

// Subscribe registers an observer for a job. The last known update, if any, is
// replayed immediately. The hub forgets a job once it goes terminal, so a
// subscriber arriving after that gets no replay; callers read terminal state
// from the job record instead. The returned cancel func is safe to call at any
// time, including after the stream ended.
func (h *Hub) Subscribe(jobID string) (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if last, ok := h.last[jobID]; ok {
		ch <- last
	}

	h.nextID++
	id := h.nextID
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan Update)
	}
	h.subs[jobID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[jobID]; ok {
			if _, ok := set[id]; ok {
				delete(set, id)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
		}
	}
	return ch, cancel
}

// Publish records the update as the job's last known state and delivers it to
// current subscribers. A terminal update ends every stream for the job and
// drops the job's retained state, keeping the hub bounded by live jobs.
func (h *Hub) Publish(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[u.JobID] = u
	for _, ch := range h.subs[u.JobID] {
		send(ch, u)
	}
	if u.Status.Terminal() {
		for _, ch := range h.subs[u.JobID] {
			close(ch)
		}
		delete(h.subs, u.JobID)
		delete(h.last, u.JobID)
	}
}

var _ Stream = (*Hub)(nil)

// send never blocks: when a subscriber's buffer is full the oldest pending
// update is dropped so the most recent one still lands.
func send(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}
