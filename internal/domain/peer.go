package domain

import (
	"fmt"
	"time"
)

type (
	// Channel identifies one proximity cell. Opaque here; the location
	// subsystem derives it from the device geohash.
	Channel string

	UserID string
)

// StalePeerAfter is how long a peer document may go without a refresh
// before it is treated as abandoned.
const StalePeerAfter = 60 * time.Second

// SessionDescription is one half of an offer/answer exchange.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Candidate is a single advertised network path for direct connectivity.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Key returns the dedup fingerprint for a candidate.
func (c Candidate) Key() string {
	return fmt.Sprintf("%s:%d:%s", c.SDPMid, c.SDPMLineIndex, c.Candidate)
}

// PeerDocument is one participant's mailbox in a channel. The entries under
// Offers[x]/Answers[x]/ICE[x] are signals this user sends *to* peer x; a peer
// reads documents[x].Offers[selfID] to receive signals addressed to itself.
type PeerDocument struct {
	UserID    UserID                        `json:"userId"`
	UpdatedAt time.Time                     `json:"updatedAt"`
	Offers    map[UserID]SessionDescription `json:"offers"`
	Answers   map[UserID]SessionDescription `json:"answers"`
	ICE       map[UserID][]Candidate        `json:"ice"`
}

func NewPeerDocument(id UserID) PeerDocument {
	return PeerDocument{
		UserID:  id,
		Offers:  make(map[UserID]SessionDescription),
		Answers: make(map[UserID]SessionDescription),
		ICE:     make(map[UserID][]Candidate),
	}
}

// Stale reports whether the document has not been refreshed within the
// staleness window as of now.
func (d PeerDocument) Stale(now time.Time) bool {
	if d.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(d.UpdatedAt) > StalePeerAfter
}

// PeerPatch is a merge-update for the caller's own document. Offers and
// Answers replace the entry for their target peer; Candidates are unioned
// into the existing list so concurrent appends never drop entries.
type PeerPatch struct {
	Offers     map[UserID]SessionDescription
	Answers    map[UserID]SessionDescription
	Candidates map[UserID][]Candidate
}

// Apply merges a patch into the document. Offers and answers replace the
// entry for their target peer; candidates are unioned by fingerprint so a
// repeated append never duplicates and a concurrent one never drops.
func (d *PeerDocument) Apply(p PeerPatch) {
	if d.Offers == nil {
		d.Offers = make(map[UserID]SessionDescription)
	}
	if d.Answers == nil {
		d.Answers = make(map[UserID]SessionDescription)
	}
	if d.ICE == nil {
		d.ICE = make(map[UserID][]Candidate)
	}
	for peer, sd := range p.Offers {
		d.Offers[peer] = sd
	}
	for peer, sd := range p.Answers {
		d.Answers[peer] = sd
	}
	for peer, cands := range p.Candidates {
		seen := make(map[string]struct{}, len(d.ICE[peer]))
		for _, c := range d.ICE[peer] {
			seen[c.Key()] = struct{}{}
		}
		for _, c := range cands {
			if _, ok := seen[c.Key()]; ok {
				continue
			}
			seen[c.Key()] = struct{}{}
			d.ICE[peer] = append(d.ICE[peer], c)
		}
	}
}

// OfferFirst is the mesh tie-break: for any pair of participants exactly one
// side initiates, with no coordination. The lexicographically smaller
// identifier offers first.
func OfferFirst(self, peer UserID) bool {
	return self < peer
}
