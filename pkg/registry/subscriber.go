package registry

import "sync"

// subscriberBuffer bounds the per-subscriber outbound queue. A subscriber
// that falls this far behind is dropped rather than allowed to back-pressure
// the transfer task.
const subscriberBuffer = 16

// Subscriber is one progress-channel client attached to a job. Events are
// pre-marshaled JSON payloads; the channel is closed when the job reaches a
// terminal state or the subscriber overflows.
type Subscriber struct {
	mu      sync.Mutex
	ch      chan []byte
	dropped bool
}

func newSubscriber() *Subscriber {
	return &Subscriber{ch: make(chan []byte, subscriberBuffer)}
}

// Events returns the outbound payload stream. The channel is closed exactly
// once; a closed channel means the subscriber should disconnect after
// draining.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// send queues a payload without blocking. On overflow the subscriber is
// marked dropped and its channel closed; sends are serialized so close
// happens exactly once.
func (s *Subscriber) send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return false
	}
	select {
	case s.ch <- payload:
		return true
	default:
		s.dropped = true
		close(s.ch)
		return false
	}
}

// close ends the stream after any buffered events are drained by the
// reader.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return
	}
	s.dropped = true
	close(s.ch)
}
