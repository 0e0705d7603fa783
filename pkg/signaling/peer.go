package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/harunnryd/wicara/pkg/errorsx"
	"github.com/harunnryd/wicara/pkg/protocol"
)

// Peer is the backend side of one browser connection: the peer connection,
// its message channel once the client opens it, and the session binding.
type Peer struct {
	id        string
	sessionID string
	pc        *webrtc.PeerConnection
	logger    *slog.Logger

	mu sync.Mutex
	dc *webrtc.DataChannel

	onMessage func(*Peer, protocol.Message)
	onOpen    func(*Peer)
	onClosed  func(*Peer)
	mirror    func(*Peer, protocol.Message)

	closed atomic.Bool
}

func newPeer(api *webrtc.API, cfg webrtc.Configuration, sessionID string, logger *slog.Logger) (*Peer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}

	p := &Peer{
		id:        uuid.NewString(),
		sessionID: sessionID,
		pc:        pc,
		logger:    logger,
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.bindChannel(dc)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("remote track", "pc_id", p.id, "kind", track.Kind().String())
		go p.drainTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "pc_id", p.id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.handleClosed()
		}
	})

	return p, nil
}

// ID is the opaque connection handle id returned to the client as pc_id.
func (p *Peer) ID() string { return p.id }

// SessionID is the owning session, empty for sessionless offers.
func (p *Peer) SessionID() string { return p.sessionID }

// Answer runs one offer/answer exchange. All ICE candidates are gathered
// before the answer is returned, so the client never needs trickle handling.
// Calling it again on a live peer renegotiates in place.
func (p *Peer) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonNegotiate)
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errorsx.Wrap(errors.New("no local description after gathering"), errorsx.ReasonNegotiate)
	}
	return *local, nil
}

// SendMessage encodes and delivers a frame over the message channel.
func (p *Peer) SendMessage(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}

	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return errorsx.Wrap(errors.New("message channel not open"), errorsx.ReasonChannelSend)
	}
	if err := dc.SendText(string(data)); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}
	if p.mirror != nil {
		p.mirror(p, m)
	}
	return nil
}

// Close tears down the peer connection. Safe to call more than once.
func (p *Peer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.pc.Close()
}

func (p *Peer) bindChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.logger.Info("message channel open", "pc_id", p.id, "label", dc.Label())
		if p.onOpen != nil {
			p.onOpen(p)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := protocol.Decode(msg.Data, time.Now())
		if err != nil {
			p.logger.Warn("dropping malformed frame", "pc_id", p.id, "error", err)
			return
		}
		if p.mirror != nil {
			p.mirror(p, m)
		}
		if p.onMessage != nil {
			p.onMessage(p, m)
		}
	})
}

func (p *Peer) handleClosed() {
	if p.closed.CompareAndSwap(false, true) {
		_ = p.pc.Close()
	}
	if p.onClosed != nil {
		p.onClosed(p)
	}
}

func (p *Peer) drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("track read ended", "pc_id", p.id, "error", err)
			}
			return
		}
	}
}
