package triage

import (
	"sync"
	"time"
)

// Event types emitted on a run's stream.
const (
	EventConnected         = "connected"
	EventPlanBuilt         = "plan_built"
	EventToolUpdate        = "tool_update"
	EventFallbackTriggered = "fallback_triggered"
	EventDecisionFinalized = "decision_finalized"
	EventError             = "error"
	EventHeartbeat         = "heartbeat"
	EventCompleted         = "completed"
)

// Event is one progress notification for a run. Data is already redacted by
// the publisher.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	subscriberBuffer = 64
	completedGrace   = 100 * time.Millisecond
)

type subscriber struct {
	ch chan Event
}

type runStream struct {
	subs     map[*subscriber]struct{}
	lastEmit time.Time
	closed   bool
}

// Stream fans events out to per-run subscribers. Delivery is best-effort:
// a subscriber that cannot keep up has events dropped rather than stalling
// the engine. Subscribers attach mid-run and receive only subsequent events;
// there is no replay.
type Stream struct {
	mu        sync.Mutex
	runs      map[string]*runStream
	heartbeat time.Duration
	onDrop    func(eventType string)
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewStream builds a stream mux. onDrop, if non-nil, is invoked once per
// dropped event. Close releases the heartbeat ticker.
func NewStream(heartbeat time.Duration, onDrop func(eventType string)) *Stream {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	s := &Stream{
		runs:      make(map[string]*runStream),
		heartbeat: heartbeat,
		onDrop:    onDrop,
		stop:      make(chan struct{}),
		now:       time.Now,
	}
	go s.heartbeatLoop()
	return s
}

// Close stops the heartbeat loop and closes all subscriber channels.
func (s *Stream) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rs := range s.runs {
		s.closeRunLocked(id, rs)
	}
}

// Open registers a run so subscribers can attach before the first event.
func (s *Stream) Open(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		s.runs[runID] = &runStream{
			subs:     make(map[*subscriber]struct{}),
			lastEmit: s.now(),
		}
	}
}

// Subscribe attaches to a run's stream. The returned channel first carries a
// connected event, then everything published after the subscription. The
// cancel func detaches; it is safe to call more than once. ok is false when
// the run is unknown or already torn down.
func (s *Stream) Subscribe(runID string) (<-chan Event, func(), bool) {
	s.mu.Lock()
	rs, exists := s.runs[runID]
	if !exists || rs.closed {
		s.mu.Unlock()
		return nil, nil, false
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	rs.subs[sub] = struct{}{}

	// Sent under the lock: the channel is fresh and buffered so this cannot
	// block, and teardown cannot close the channel mid-send.
	sub.ch <- Event{
		Type:      EventConnected,
		Timestamp: s.now(),
		RunID:     runID,
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if rs, ok := s.runs[runID]; ok {
				if _, attached := rs.subs[sub]; attached {
					delete(rs.subs, sub)
					close(sub.ch)
				}
			}
		})
	}
	return sub.ch, cancel, true
}

// Publish delivers an event to every subscriber of its run without blocking.
func (s *Stream) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[ev.RunID]
	if !ok || rs.closed {
		return
	}
	rs.lastEmit = ev.Timestamp
	for sub := range rs.subs {
		select {
		case sub.ch <- ev:
		default:
			if s.onDrop != nil {
				s.onDrop(ev.Type)
			}
		}
	}
}

// Complete emits the terminal completed event after a short grace period and
// tears the run's stream down. It returns immediately.
func (s *Stream) Complete(runID string) {
	go func() {
		timer := time.NewTimer(completedGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stop:
		}

		s.Publish(Event{Type: EventCompleted, RunID: runID})

		s.mu.Lock()
		defer s.mu.Unlock()
		if rs, ok := s.runs[runID]; ok {
			s.closeRunLocked(runID, rs)
		}
	}()
}

func (s *Stream) closeRunLocked(runID string, rs *runStream) {
	if rs.closed {
		return
	}
	rs.closed = true
	for sub := range rs.subs {
		close(sub.ch)
	}
	delete(s.runs, runID)
}

// heartbeatLoop keeps idle streams alive for proxies and clients.
func (s *Stream) heartbeatLoop() {
	tick := time.NewTicker(s.heartbeat / 2)
	defer tick.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-tick.C:
		}

		now := s.now()
		s.mu.Lock()
		var idle []string
		for id, rs := range s.runs {
			if !rs.closed && now.Sub(rs.lastEmit) >= s.heartbeat {
				idle = append(idle, id)
			}
		}
		s.mu.Unlock()

		for _, id := range idle {
			s.Publish(Event{Type: EventHeartbeat, RunID: id, Timestamp: now})
		}
	}
}
