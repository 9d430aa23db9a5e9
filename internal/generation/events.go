package generation

import (
	"skkn-server/internal/ai"
	"skkn-server/internal/domain"
)

// EventType names what changed in a session.
type EventType string

const (
	EventChunk   EventType = "chunk"
	EventAttempt EventType = "attempt"
	EventState   EventType = "state"
	EventError   EventType = "error"
	EventReview  EventType = "review"
)

const subscriberBuffer = 256

// Event is delivered to session subscribers.
type Event struct {
	Type    EventType         `json:"type"`
	Chunk   string            `json:"chunk,omitempty"`
	Attempt *ai.Attempt       `json:"attempt,omitempty"`
	Error   *domain.ErrorInfo `json:"error,omitempty"`
	Review  *ReviewView       `json:"review,omitempty"`
	View    *View             `json:"view,omitempty"`
}

// Subscribe registers an observer. Events are dropped for a subscriber whose
// buffer is full. The returned function unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// closeSubscribers closes every observer channel.
func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Session) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			droppedEvents.Inc()
		}
	}
}
