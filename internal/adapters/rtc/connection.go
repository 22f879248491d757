package rtc

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// Factory builds pion-backed media connections sharing one ICE
// configuration.
type Factory struct {
	cfg webrtc.Configuration
}

func NewFactory(stunURL string) *Factory {
	return &Factory{cfg: webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{stunURL}},
		},
	}}
}

func (f *Factory) NewConnection(peer domain.UserID) (core.MediaConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, peer: peer, done: make(chan struct{})}
	c.bind()
	return c, nil
}

// Connection wraps a pion PeerConnection for a single remote peer.
// Application callbacks are mutable so Detach can clear them before Close;
// the pion-level handlers are registered once and delegate through the lock.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.UserID

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onConn  func(webrtc.PeerConnectionState)
	onICESt func(webrtc.ICEConnectionState)
	done    chan struct{}
	closed  bool
	inPkts  atomic.Uint64
	inBytes atomic.Uint64
}

func (c *Connection) bind() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // end of gathering
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		c.mu.RLock()
		fn := c.onConn
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
		c.mu.RLock()
		fn := c.onICESt
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		go c.pump(track)
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})
}

// pump drains RTP off the remote track so pion buffers never back up, and
// meters inbound traffic for the stats surface.
func (c *Connection) pump(track *webrtc.TrackRemote) {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("track pump stopped")
			}
			return
		}
		c.count(pkt)
	}
}

func (c *Connection) count(pkt *rtp.Packet) {
	c.inPkts.Add(1)
	c.inBytes.Add(uint64(pkt.MarshalSize()))
}

func (c *Connection) InboundStats() core.InboundStats {
	return core.InboundStats{Packets: c.inPkts.Load(), Bytes: c.inBytes.Load()}
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onConn = fn
	c.mu.Unlock()
}

func (c *Connection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICESt = fn
	c.mu.Unlock()
}

func (c *Connection) Detach() {
	c.mu.Lock()
	c.onICE = nil
	c.onTrack = nil
	c.onConn = nil
	c.onICESt = nil
	c.mu.Unlock()
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
	}
}
