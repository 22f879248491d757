package core

import "sync"

// RemoteStream aggregates inbound audio tracks from every connected peer
// into a single outward-facing stream, shielding the rest of the app from
// per-peer track management. Tracks are deduplicated by track id.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks map[string]RemoteTrack
	order  []string
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{tracks: make(map[string]RemoteTrack)}
}

// AddTrack merges a track into the stream. Returns false if a track with
// the same id is already present.
func (s *RemoteStream) AddTrack(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := t.ID()
	if _, ok := s.tracks[id]; ok {
		return false
	}
	s.tracks[id] = t
	s.order = append(s.order, id)
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tracks[id])
	}
	return out
}

func (s *RemoteStream) TrackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Clear drops every track reference. Called on session teardown.
func (s *RemoteStream) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = make(map[string]RemoteTrack)
	s.order = nil
}
