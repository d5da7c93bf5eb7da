package realtime

import "sync"

// SpeechTracker follows the inbound event stream and reports whether the
// assistant is currently producing audio. Speaking starts with the first
// response.audio.delta and ends with response.audio.done or response.done.
//
// SpeechTracker is safe for concurrent use.
type SpeechTracker struct {
	mu       sync.Mutex
	speaking bool
}

// Observe updates the tracker with an inbound event type. It returns the new
// speaking state and whether it changed.
func (s *SpeechTracker) Observe(evt EventType) (speaking, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.speaking
	switch evt {
	case EventResponseAudioDelta:
		s.speaking = true
	case EventResponseAudioDone, EventResponseDone, EventError:
		s.speaking = false
	}
	return s.speaking, s.speaking != prev
}

// Speaking reports the current speaking state.
func (s *SpeechTracker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Reset clears the speaking state, e.g. on disconnect.
func (s *SpeechTracker) Reset() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}
