package p2p

import (
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// NegotiationState is the per-peer negotiation phase. Two linear paths share
// it: an offerer goes Idle → OfferSent → RemoteAnswerApplied, an answerer
// goes Idle → RemoteOfferApplied → AnswerSent. The OfferSent →
// RemoteOfferApplied edge covers offer glare, where both sides transiently
// believe they should initiate.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOfferSent
	StateRemoteOfferApplied
	StateAnswerSent
	StateRemoteAnswerApplied
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer_sent"
	case StateRemoteOfferApplied:
		return "remote_offer_applied"
	case StateAnswerSent:
		return "answer_sent"
	case StateRemoteAnswerApplied:
		return "remote_answer_applied"
	default:
		return "unknown"
	}
}

var negotiationEdges = map[NegotiationState][]NegotiationState{
	StateIdle:               {StateOfferSent, StateRemoteOfferApplied},
	StateOfferSent:          {StateRemoteOfferApplied, StateRemoteAnswerApplied},
	StateRemoteOfferApplied: {StateAnswerSent},
}

// peerLink is the connection record for one remote participant: the media
// connection, candidate fingerprints already emitted and already applied,
// and the negotiation phase.
type peerLink struct {
	id    domain.UserID
	conn  core.MediaConnection
	state NegotiationState

	iceSeen    map[string]struct{}
	remoteSeen map[string]struct{}
}

func newPeerLink(id domain.UserID, conn core.MediaConnection) *peerLink {
	return &peerLink{
		id:         id,
		conn:       conn,
		iceSeen:    make(map[string]struct{}),
		remoteSeen: make(map[string]struct{}),
	}
}

// advance moves the link to the next phase, refusing transitions outside
// the negotiation graph.
func (l *peerLink) advance(next NegotiationState) bool {
	for _, allowed := range negotiationEdges[l.state] {
		if allowed == next {
			l.state = next
			return true
		}
	}
	log.Warn().
		Str("module", "p2p").
		Str("peer", string(l.id)).
		Str("from", l.state.String()).
		Str("to", next.String()).
		Msg("refused negotiation transition")
	return false
}
