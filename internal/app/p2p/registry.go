package p2p

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// ensureLinkLocked lazily materializes the connection record for a peer,
// attaching the local audio tracks and wiring the four event reactions:
// local candidate → store, connection state → listener, ICE state →
// listener, remote track → merged stream.
func (s *Session) ensureLinkLocked(peer domain.UserID) (*peerLink, error) {
	if link, ok := s.links[peer]; ok {
		return link, nil
	}

	conn, err := s.media.NewConnection(peer)
	if err != nil {
		return nil, err
	}
	if s.local != nil {
		for _, track := range s.local.Tracks() {
			if err := conn.AddLocalTrack(track); err != nil {
				log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("attach local track")
			}
		}
	}

	gen := s.gen
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		s.onLocalCandidate(gen, peer, ci)
	})
	conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.onPeerState(gen, core.StateEvent{PeerID: peer, ConnectionState: st.String()})
	})
	conn.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.onPeerState(gen, core.StateEvent{PeerID: peer, ICEState: st.String()})
	})
	conn.OnTrack(func(track core.RemoteTrack) {
		s.onRemoteTrack(gen, peer, track)
	})

	link := newPeerLink(peer, conn)
	s.links[peer] = link
	s.status[peer] = &core.PeerStatus{PeerID: peer}
	log.Info().Str("module", "p2p").Str("peer", string(peer)).Msg("peer connection created")
	return link, nil
}

// onLocalCandidate publishes a freshly gathered candidate into this user's
// own document, addressed to the peer it belongs to. Duplicate gatherings
// are dropped by fingerprint; write failures are logged and the candidate
// fingerprint kept, matching append-only mailbox semantics.
func (s *Session) onLocalCandidate(gen uint64, peer domain.UserID, ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	link, ok := s.links[peer]
	if !ok {
		return
	}

	cand := domain.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		cand.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		cand.SDPMLineIndex = *ci.SDPMLineIndex
	}
	key := cand.Key()
	if _, seen := link.iceSeen[key]; seen {
		return
	}
	link.iceSeen[key] = struct{}{}

	err := s.store.PatchSelf(s.ctx, s.channel, s.selfID, domain.PeerPatch{
		Candidates: map[domain.UserID][]domain.Candidate{peer: {cand}},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("candidate write failed")
	}
}

// onPeerState records the transition and surfaces it to the listener. A
// degraded peer is the caller's cue to warn or fall back to the cloud
// transport; the mesh itself does not retry.
func (s *Session) onPeerState(gen uint64, ev core.StateEvent) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if st, ok := s.status[ev.PeerID]; ok {
		if ev.ConnectionState != "" {
			st.ConnectionState = ev.ConnectionState
		}
		if ev.ICEState != "" {
			st.ICEState = ev.ICEState
		}
	}
	fn := s.onState
	s.mu.Unlock()

	if ev.Degraded() {
		log.Warn().Str("module", "p2p").Str("peer", string(ev.PeerID)).Str("connection_state", ev.ConnectionState).Str("ice_state", ev.ICEState).Msg("peer degraded")
	}
	if fn != nil {
		fn(ev)
	}
}

// onRemoteTrack merges an inbound track into the shared remote stream,
// creating it lazily on the first track and deduplicating by track id.
func (s *Session) onRemoteTrack(gen uint64, peer domain.UserID, track core.RemoteTrack) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.remote == nil {
		s.remote = core.NewRemoteStream()
	}
	added := s.remote.AddTrack(track)
	stream := s.remote
	fn := s.onStream
	s.mu.Unlock()

	if added {
		log.Info().Str("module", "p2p").Str("peer", string(peer)).Str("track_id", track.ID()).Msg("remote track merged")
	}
	if fn != nil {
		fn(stream)
	}
}
