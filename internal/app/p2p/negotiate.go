package p2p

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/domain"
)

// offerLocked initiates toward a peer. No-op once an offer is on the wire
// or the answering path is already active. The offer is marked sent only
// after the store write lands, so a failed write is retried on the next
// snapshot pass.
func (s *Session) offerLocked(peer domain.UserID) {
	link, err := s.ensureLinkLocked(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("create peer connection")
		return
	}
	if link.state != StateIdle {
		return
	}

	offer, err := link.conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("create offer")
		return
	}
	if err := link.conn.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("set local offer")
		return
	}

	err = s.store.PatchSelf(s.ctx, s.channel, s.selfID, domain.PeerPatch{
		Offers: map[domain.UserID]domain.SessionDescription{
			peer: {SDP: offer.SDP, Type: offer.Type.String()},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("offer write failed")
		return
	}
	link.advance(StateOfferSent)
	log.Info().Str("module", "p2p").Str("peer", string(peer)).Msg("offer sent")
}

// handleRemoteUpdateLocked applies one peer's document to that peer's link.
// It runs on every snapshot for every live peer, so every step is guarded
// to tolerate identical or partially-advanced replays: phase checks make
// offer/answer application once-only, signaling-state preconditions keep
// replays out of illegal transitions, and candidates dedup by fingerprint.
func (s *Session) handleRemoteUpdateLocked(doc domain.PeerDocument) {
	peer := doc.UserID
	link, err := s.ensureLinkLocked(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("create peer connection")
		return
	}
	conn := link.conn

	if offer, ok := doc.Offers[s.selfID]; ok {
		if link.state == StateIdle || link.state == StateOfferSent {
			switch conn.SignalingState() {
			case webrtc.SignalingStateStable, webrtc.SignalingStateHaveLocalOffer:
				sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(offer.Type), SDP: offer.SDP}
				if err := conn.SetRemoteDescription(sd); err != nil {
					log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("apply remote offer")
				} else {
					link.advance(StateRemoteOfferApplied)
				}
			}
		}
	}

	if link.state == StateRemoteOfferApplied && conn.SignalingState() == webrtc.SignalingStateHaveRemoteOffer {
		s.answerLocked(link)
	}

	if answer, ok := doc.Answers[s.selfID]; ok && link.state == StateOfferSent {
		ld := conn.LocalDescription()
		if ld != nil && ld.Type == webrtc.SDPTypeOffer && conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(answer.Type), SDP: answer.SDP}
			if err := conn.SetRemoteDescription(sd); err != nil {
				log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("apply remote answer")
			} else {
				link.advance(StateRemoteAnswerApplied)
				log.Info().Str("module", "p2p").Str("peer", string(peer)).Msg("answer applied")
			}
		}
	}

	for _, c := range doc.ICE[s.selfID] {
		key := c.Key()
		if _, seen := link.remoteSeen[key]; seen {
			continue
		}
		link.remoteSeen[key] = struct{}{}
		mid := c.SDPMid
		idx := c.SDPMLineIndex
		ci := webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
		if err := conn.AddICECandidate(ci); err != nil {
			// One bad candidate must not abort the peer's negotiation.
			log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("apply remote candidate")
		}
	}

	// A peer we only learned about through their inbound signal still gets
	// an offer from us if the tie-break says we initiate.
	if link.state == StateIdle && domain.OfferFirst(s.selfID, peer) {
		s.offerLocked(peer)
	}
}

// answerLocked synthesizes and publishes the answer to an applied remote
// offer. Marked sent only after the store write lands.
func (s *Session) answerLocked(link *peerLink) {
	peer := link.id
	answer, err := link.conn.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("create answer")
		return
	}
	if err := link.conn.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("set local answer")
		return
	}

	err = s.store.PatchSelf(s.ctx, s.channel, s.selfID, domain.PeerPatch{
		Answers: map[domain.UserID]domain.SessionDescription{
			peer: {SDP: answer.SDP, Type: answer.Type.String()},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("peer", string(peer)).Msg("answer write failed")
		return
	}
	link.advance(StateAnswerSent)
	log.Info().Str("module", "p2p").Str("peer", string(peer)).Msg("answer sent")
}
