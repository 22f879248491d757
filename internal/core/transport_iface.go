package core

import (
	"context"

	"github.com/hearby/hearby/internal/domain"
)

type TransportMode string

const (
	TransportP2P   TransportMode = "p2p"
	TransportCloud TransportMode = "cloud"
)

// StateEvent reports a per-peer connection or ICE state transition.
// Exactly one of ConnectionState/ICEState is set per event.
type StateEvent struct {
	PeerID          domain.UserID `json:"peerId"`
	ConnectionState string        `json:"connectionState,omitempty"`
	ICEState        string        `json:"iceConnectionState,omitempty"`
}

// Degraded reports whether the event means the link to that peer is
// effectively gone. The channel controller reacts (fallback prompt, UI
// warning); the transport itself never retries.
func (e StateEvent) Degraded() bool {
	switch e.ConnectionState {
	case "failed", "disconnected", "closed":
		return true
	}
	switch e.ICEState {
	case "failed", "disconnected", "closed":
		return true
	}
	return false
}

// PeerStatus is the last observed state of one remote peer.
type PeerStatus struct {
	PeerID          domain.UserID `json:"peerId"`
	ConnectionState string        `json:"connectionState"`
	ICEState        string        `json:"iceConnectionState"`
	Inbound         InboundStats  `json:"inbound"`
}

// InboundStats counts media received from one peer.
type InboundStats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// StatsProvider is implemented by media connections that meter inbound
// traffic. Optional; fakes need not bother.
type StatsProvider interface {
	InboundStats() InboundStats
}

// Transport is the uniform seam between the voice-channel controller and an
// audio transport implementation, letting the P2P mesh be swapped for the
// managed cloud path without changing call sites.
type Transport interface {
	Mode() TransportMode
	// Join enters a channel. Fails only on local media acquisition; any
	// prior session is torn down first.
	Join(ctx context.Context, ch domain.Channel, userID domain.UserID) error
	// Leave exits the current channel. Never fails from the caller's
	// perspective; cleanup errors are absorbed.
	Leave(ctx context.Context)
	// MuteLocal toggles the captured audio feed. Safe at any time.
	MuteLocal(mute bool)
	Muted() bool

	Channel() (domain.Channel, bool)
	RemoteStream() *RemoteStream
	Peers() []PeerStatus

	// OnStateChange registers the per-peer state listener. Must be set
	// before Join.
	OnStateChange(func(StateEvent))
	// OnRemoteStream registers the merged-stream listener, invoked whenever
	// the aggregate gains a track and with nil when the session ends.
	OnRemoteStream(func(*RemoteStream))
}
