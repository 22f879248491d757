// Package p2p implements the mesh audio transport: every pair of
// participants in a proximity channel negotiates a direct connection,
// relaying offers, answers and ICE candidates through the shared signal
// store.
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// Session is one device's membership in at most one proximity channel.
// All negotiation state hangs off it; there are no package-level singletons,
// so independent sessions coexist in tests.
type Session struct {
	store  core.SignalStore
	media  core.MediaFactory
	device core.AudioDevice

	onState  func(core.StateEvent)
	onStream func(*core.RemoteStream)

	mu      sync.Mutex
	gen     uint64 // bumped on every cleanup; late callbacks compare and bail
	channel domain.Channel
	selfID  domain.UserID
	local   core.LocalAudio
	remote  *core.RemoteStream
	links   map[domain.UserID]*peerLink
	status  map[domain.UserID]*core.PeerStatus
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSession(store core.SignalStore, media core.MediaFactory, device core.AudioDevice) *Session {
	return &Session{
		store:  store,
		media:  media,
		device: device,
		links:  make(map[domain.UserID]*peerLink),
		status: make(map[domain.UserID]*core.PeerStatus),
	}
}

// OnStateChange registers the per-peer state listener. Set before Join.
func (s *Session) OnStateChange(fn func(core.StateEvent)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnRemoteStream registers the merged-stream listener. Set before Join.
func (s *Session) OnRemoteStream(fn func(*core.RemoteStream)) {
	s.mu.Lock()
	s.onStream = fn
	s.mu.Unlock()
}

// Join enters a channel. Any previous session state is torn down first.
// Local audio acquisition failure is fatal and leaves nothing behind;
// presence publish and roster subscription failures likewise abort, since a
// session that cannot signal is dead on arrival.
func (s *Session) Join(ctx context.Context, ch domain.Channel, userID domain.UserID) error {
	s.mu.Lock()
	hadRemote := s.remote != nil
	streamFn := s.onStream
	defer func() {
		s.mu.Unlock()
		if hadRemote && streamFn != nil {
			streamFn(nil)
		}
	}()

	s.cleanupLocked()

	local, err := s.device.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire local audio: %w", err)
	}

	s.channel = ch
	s.selfID = userID
	s.local = local
	s.ctx, s.cancel = context.WithCancel(context.Background())
	gen := s.gen

	log.Info().Str("module", "p2p").Str("channel", string(ch)).Str("self", string(userID)).Msg("joining channel")

	if err := s.store.PublishSelf(ctx, ch, userID, domain.NewPeerDocument(userID)); err != nil {
		s.cleanupLocked()
		return fmt.Errorf("publish presence: %w", err)
	}

	// One-shot roster scan. Stale documents are leftovers of crashed
	// sessions; delete them so the channel does not accrete ghosts.
	roster, err := s.store.ListAll(ctx, ch)
	if err != nil {
		log.Error().Err(err).Str("module", "p2p").Str("channel", string(ch)).Msg("roster scan failed, relying on subscription")
	}
	now := time.Now()
	for _, doc := range roster {
		if doc.UserID == userID {
			continue
		}
		if doc.Stale(now) {
			if derr := s.store.DeleteSelf(ctx, ch, doc.UserID); derr != nil {
				log.Debug().Err(derr).Str("module", "p2p").Str("peer", string(doc.UserID)).Msg("stale peer delete failed")
			}
			continue
		}
		if domain.OfferFirst(userID, doc.UserID) {
			s.offerLocked(doc.UserID)
		}
	}

	// The subscription must outlive the caller's ctx, which in the control
	// API wiring is request-scoped; it is bounded by the session's own
	// lifetime instead and ended by cleanup via the stop func.
	unsub, err := s.store.Subscribe(s.ctx, ch, func(docs []domain.PeerDocument) {
		s.onSnapshot(gen, docs)
	})
	if err != nil {
		s.cleanupLocked()
		return fmt.Errorf("subscribe roster: %w", err)
	}
	s.unsub = unsub
	return nil
}

// Leave exits the current channel. The presence delete is best-effort; a
// peer that cannot reach the store on the way out is pruned by others via
// the staleness window.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.channel != "" && s.selfID != "" {
		if err := s.store.DeleteSelf(ctx, s.channel, s.selfID); err != nil {
			log.Debug().Err(err).Str("module", "p2p").Str("channel", string(s.channel)).Msg("presence delete failed")
		}
	}
	hadRemote := s.remote != nil
	s.cleanupLocked()
	fn := s.onStream
	s.mu.Unlock()

	if hadRemote && fn != nil {
		fn(nil)
	}
}

// MuteLocal toggles the captured audio feed, independent of negotiation
// state. No-op when no media is held.
func (s *Session) MuteLocal(mute bool) {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local == nil {
		return
	}
	local.SetMuted(mute)
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local == nil {
		return false
	}
	return local.Muted()
}

// Channel reports the joined channel, if any.
func (s *Session) Channel() (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.channel != ""
}

// RemoteStream returns the merged inbound stream, nil before the first
// remote track arrives.
func (s *Session) RemoteStream() *core.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Peers snapshots the last observed state of every known peer.
func (s *Session) Peers() []core.PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PeerStatus, 0, len(s.status))
	for id, st := range s.status {
		snap := *st
		if link, ok := s.links[id]; ok {
			if sp, ok := link.conn.(core.StatsProvider); ok {
				snap.Inbound = sp.InboundStats()
			}
		}
		out = append(out, snap)
	}
	return out
}

// cleanupLocked tears down all session state: subscription, every peer
// connection (handlers detached before close), local and remote media.
// Bumping gen invalidates callbacks already in flight.
func (s *Session) cleanupLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.ctx, s.cancel = nil, nil
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	for id, link := range s.links {
		link.conn.Detach()
		link.conn.Close()
		delete(s.links, id)
	}
	s.status = make(map[domain.UserID]*core.PeerStatus)
	if s.local != nil {
		s.local.Close()
		s.local = nil
	}
	if s.remote != nil {
		s.remote.Clear()
		s.remote = nil
	}
	s.channel = ""
	s.selfID = ""
}

// onSnapshot is the subscription entry point: every change to the channel
// roster re-runs negotiation for every live peer in it. Stale documents are
// skipped; their owners are effectively gone even if the delete has not
// propagated yet. A peer whose document vanished or went stale is dropped
// from the link and status tables so the state surface only lists peers
// actually present.
func (s *Session) onSnapshot(gen uint64, docs []domain.PeerDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	now := time.Now()
	present := make(map[domain.UserID]struct{}, len(docs))
	for _, doc := range docs {
		if doc.UserID == s.selfID {
			continue
		}
		if doc.Stale(now) {
			continue
		}
		present[doc.UserID] = struct{}{}
		s.handleRemoteUpdateLocked(doc)
	}
	for id, link := range s.links {
		if _, ok := present[id]; ok {
			continue
		}
		link.conn.Detach()
		link.conn.Close()
		delete(s.links, id)
		delete(s.status, id)
		log.Info().Str("module", "p2p").Str("peer", string(id)).Msg("peer departed")
	}
}
