package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// fakeConn mimics a peer connection's signaling surface, enforcing the same
// state transitions a real one would.
type fakeConn struct {
	mu         sync.Mutex
	self, peer domain.UserID

	signaling  webrtc.SignalingState
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription

	offerSeq   int
	answerSeq  int
	candidates []webrtc.ICECandidateInit

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onConn  func(webrtc.PeerConnectionState)
	onICESt func(webrtc.ICEConnectionState)

	localTracks []webrtc.TrackLocal
	detached    bool
	closed      bool
}

func newFakeConn(self, peer domain.UserID) *fakeConn {
	return &fakeConn{self: self, peer: peer, signaling: webrtc.SignalingStateStable}
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerSeq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer %s->%s #%d", c.self, c.peer, c.offerSeq),
	}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("cannot answer in state %s", c.signaling)
	}
	c.answerSeq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 answer %s->%s #%d", c.self, c.peer, c.answerSeq),
	}, nil
}

func (c *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.signaling != webrtc.SignalingStateStable && c.signaling != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("local offer in state %s", c.signaling)
		}
		c.signaling = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if c.signaling != webrtc.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("local answer in state %s", c.signaling)
		}
		c.signaling = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported local description %s", d.Type)
	}
	c.localDesc = &d
	return nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.signaling != webrtc.SignalingStateStable {
			return fmt.Errorf("remote offer in state %s", c.signaling)
		}
		c.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.signaling != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in state %s", c.signaling)
		}
		c.signaling = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported remote description %s", d.Type)
	}
	c.remoteDesc = &d
	return nil
}

func (c *fakeConn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDesc
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ci.Candidate == "garbage" {
		return errors.New("malformed candidate")
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) appliedCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

func (c *fakeConn) AddLocalTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localTracks = append(c.localTracks, track)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(core.RemoteTrack))              { c.onTrack = fn }
func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onConn = fn
}
func (c *fakeConn) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.onICESt = fn
}

func (c *fakeConn) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	c.onICE, c.onTrack, c.onConn, c.onICESt = nil, nil, nil, nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) emitICE(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(ci)
	}
}

func (c *fakeConn) emitTrack(t core.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (c *fakeConn) emitConnState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onConn
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// fakeFactory hands out fakeConns and remembers them by peer id.
type fakeFactory struct {
	mu    sync.Mutex
	self  domain.UserID
	conns map[domain.UserID]*fakeConn
	err   error
}

func newFakeFactory(self domain.UserID) *fakeFactory {
	return &fakeFactory{self: self, conns: make(map[domain.UserID]*fakeConn)}
}

func (f *fakeFactory) NewConnection(peer domain.UserID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := newFakeConn(f.self, peer)
	f.conns[peer] = c
	return c, nil
}

func (f *fakeFactory) conn(peer domain.UserID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[peer]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeAudio struct {
	mu      sync.Mutex
	muted   bool
	stopped bool
}

func (a *fakeAudio) Tracks() []webrtc.TrackLocal { return nil }

func (a *fakeAudio) SetMuted(mute bool) {
	a.mu.Lock()
	a.muted = mute
	a.mu.Unlock()
}

func (a *fakeAudio) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

func (a *fakeAudio) Close() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
}

func (a *fakeAudio) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type fakeDevice struct {
	audio      *fakeAudio
	err        error
	acquireCtx context.Context
}

func (d *fakeDevice) Acquire(ctx context.Context) (core.LocalAudio, error) {
	d.acquireCtx = ctx
	if d.err != nil {
		return nil, d.err
	}
	if d.audio == nil {
		d.audio = &fakeAudio{}
	}
	return d.audio, nil
}

type fakeTrack struct {
	id, stream string
}

func (t fakeTrack) ID() string                { return t.id }
func (t fakeTrack) StreamID() string          { return t.stream }
func (t fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

// countingStore decorates a SignalStore and tallies patch writes by kind.
type countingStore struct {
	core.SignalStore

	mu           sync.Mutex
	offerWrites  map[domain.UserID]int
	answerWrites map[domain.UserID]int
	candWrites   map[domain.UserID]int
	total        int
}

func newCountingStore(inner core.SignalStore) *countingStore {
	return &countingStore{
		SignalStore:  inner,
		offerWrites:  make(map[domain.UserID]int),
		answerWrites: make(map[domain.UserID]int),
		candWrites:   make(map[domain.UserID]int),
	}
}

func (s *countingStore) PatchSelf(ctx context.Context, ch domain.Channel, id domain.UserID, patch domain.PeerPatch) error {
	s.mu.Lock()
	s.total++
	for peer := range patch.Offers {
		s.offerWrites[peer]++
	}
	for peer := range patch.Answers {
		s.answerWrites[peer]++
	}
	for peer := range patch.Candidates {
		s.candWrites[peer]++
	}
	s.mu.Unlock()
	return s.SignalStore.PatchSelf(ctx, ch, id, patch)
}

func (s *countingStore) PublishSelf(ctx context.Context, ch domain.Channel, id domain.UserID, doc domain.PeerDocument) error {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
	return s.SignalStore.PublishSelf(ctx, ch, id, doc)
}

func (s *countingStore) offersTo(peer domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offerWrites[peer]
}

func (s *countingStore) answersTo(peer domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answerWrites[peer]
}

func (s *countingStore) candidatesTo(peer domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candWrites[peer]
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ctxBoundStore decorates a SignalStore so snapshot delivery stops once the
// ctx given to Subscribe is canceled, the way a store client tied to its
// caller's request lifetime behaves.
type ctxBoundStore struct {
	core.SignalStore
}

func (s ctxBoundStore) Subscribe(ctx context.Context, ch domain.Channel, fn func([]domain.PeerDocument)) (func(), error) {
	return s.SignalStore.Subscribe(ctx, ch, func(docs []domain.PeerDocument) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn(docs)
	})
}

// waitFor polls until cond holds or the test deadline expires. Snapshot
// delivery is asynchronous, so assertions on negotiation progress poll.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) linkState(peer domain.UserID) (NegotiationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[peer]
	if !ok {
		return StateIdle, false
	}
	return link.state, true
}

func (s *Session) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
