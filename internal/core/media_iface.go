package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/hearby/hearby/internal/domain"
)

// RemoteTrack is the slice of a remote media track the session cares about.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// MediaConnection is one direct media link to a single remote peer.
// Owned by the peer registry; the registry must Detach() before Close() so
// no stale callback fires during teardown.
type MediaConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP, nil before any was set.
	LocalDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local track before negotiation starts.
	AddLocalTrack(track webrtc.TrackLocal) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))

	// Detach clears every registered callback.
	Detach()
	Close()
}

// MediaFactory builds one MediaConnection per remote peer.
type MediaFactory interface {
	NewConnection(peer domain.UserID) (MediaConnection, error)
}

// LocalAudio is the locally captured audio feed shared by every peer
// connection of a session. Muting toggles the feed without touching
// negotiation state.
type LocalAudio interface {
	Tracks() []webrtc.TrackLocal
	SetMuted(mute bool)
	Muted() bool
	Close()
}

// AudioDevice acquires the local audio feed. Acquisition failure is fatal
// to joining a channel.
type AudioDevice interface {
	Acquire(ctx context.Context) (LocalAudio, error)
}
