package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// Cloud is the managed-SFU path. The SFU integration is not wired in this
// build; the implementation keeps the seam honest so call sites and the
// mode switch stay identical once it lands.
type Cloud struct {
	mu      sync.Mutex
	channel domain.Channel
	muted   bool
}

func NewCloud() *Cloud { return &Cloud{} }

func (t *Cloud) Mode() core.TransportMode { return core.TransportCloud }

func (t *Cloud) Join(_ context.Context, ch domain.Channel, userID domain.UserID) error {
	log.Warn().Str("module", "transport").Str("channel", string(ch)).Str("user", string(userID)).Msg("cloud transport not wired; joining without media")
	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()
	return nil
}

func (t *Cloud) Leave(_ context.Context) {
	t.mu.Lock()
	t.channel = ""
	t.mu.Unlock()
}

func (t *Cloud) MuteLocal(mute bool) {
	t.mu.Lock()
	t.muted = mute
	t.mu.Unlock()
}

func (t *Cloud) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Cloud) Channel() (domain.Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel, t.channel != ""
}

func (t *Cloud) RemoteStream() *core.RemoteStream { return nil }

func (t *Cloud) Peers() []core.PeerStatus { return nil }

func (t *Cloud) OnStateChange(func(core.StateEvent)) {}

func (t *Cloud) OnRemoteStream(func(*core.RemoteStream)) {}
