// Package transport exposes the uniform transport seam consumed by the
// voice-channel controller and selects between the mesh and cloud
// implementations.
package transport

import (
	"context"

	"github.com/hearby/hearby/internal/app/p2p"
	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// P2P adapts a mesh session to the Transport contract.
type P2P struct {
	session *p2p.Session
}

func NewP2P(store core.SignalStore, media core.MediaFactory, device core.AudioDevice) *P2P {
	return &P2P{session: p2p.NewSession(store, media, device)}
}

func (t *P2P) Mode() core.TransportMode { return core.TransportP2P }

func (t *P2P) Join(ctx context.Context, ch domain.Channel, userID domain.UserID) error {
	return t.session.Join(ctx, ch, userID)
}

func (t *P2P) Leave(ctx context.Context) {
	t.session.Leave(ctx)
}

func (t *P2P) MuteLocal(mute bool) {
	t.session.MuteLocal(mute)
}

func (t *P2P) Muted() bool { return t.session.Muted() }

func (t *P2P) Channel() (domain.Channel, bool) { return t.session.Channel() }

func (t *P2P) RemoteStream() *core.RemoteStream { return t.session.RemoteStream() }

func (t *P2P) Peers() []core.PeerStatus { return t.session.Peers() }

func (t *P2P) OnStateChange(fn func(core.StateEvent)) { t.session.OnStateChange(fn) }

func (t *P2P) OnRemoteStream(fn func(*core.RemoteStream)) { t.session.OnRemoteStream(fn) }
