package session

import (
	"errors"
	"fmt"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
)

// Phase is the lifecycle position of one submitted prompt's event stream.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSubscription
	PhaseStreaming
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingSubscription:
		return "awaiting-subscription"
	case PhaseStreaming:
		return "streaming"
	case PhaseTerminal:
		return "terminal"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrInvalidTransition is returned when a stream is moved along an edge the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid stream transition")

var transitions = map[Phase][]Phase{
	PhaseIdle:                 {PhaseAwaitingSubscription},
	PhaseAwaitingSubscription: {PhaseStreaming, PhaseTerminal},
	PhaseStreaming:            {PhaseTerminal},
}

// stream tracks one submission. Chunk events are routed by comparing the
// stream the handler was created for against the coordinator's current one.
type stream struct {
	conversationID string
	messageID      string
	phase          Phase
	sub            backend.Subscription
	model          string
}

func newStream(conversationID, messageID string) *stream {
	return &stream{
		conversationID: conversationID,
		messageID:      messageID,
		phase:          PhaseIdle,
	}
}

func (s *stream) advance(to Phase) error {
	for _, next := range transitions[s.phase] {
		if next == to {
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}

func (s *stream) terminal() bool {
	return s.phase == PhaseTerminal
}

// accepts reports whether chunks may still be applied.
func (s *stream) accepts() bool {
	return s.phase == PhaseAwaitingSubscription || s.phase == PhaseStreaming
}

// release detaches and returns the subscription, if any.
func (s *stream) release() backend.Subscription {
	sub := s.sub
	s.sub = nil
	return sub
}
