// Package client implements the browser-equivalent side of the conversation:
// it acquires capture, negotiates the peer connection through the signaling
// endpoint, and routes inbound wire frames into the status tracker and the
// transcript reconciler.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harunnryd/wicara/pkg/errorsx"
	"github.com/harunnryd/wicara/pkg/logging"
	"github.com/harunnryd/wicara/pkg/media"
	"github.com/harunnryd/wicara/pkg/protocol"
	"github.com/harunnryd/wicara/pkg/status"
	"github.com/harunnryd/wicara/pkg/transcript"
)

// State is the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// FrameHandler observes every decoded inbound frame after routing.
type FrameHandler func(protocol.Message)

// Options configures a Controller.
type Options struct {
	// Signal exchanges descriptions with the endpoint. Required.
	Signal *SignalClient
	// Capturer acquires the local audio source. Defaults to silence capture.
	Capturer media.Capturer
	// Constraints are passed to the capturer.
	Constraints media.Constraints
	// Sink consumes remote audio. Defaults to a discarding sink.
	Sink media.Sink
	// ChannelLabel names the message channel. Defaults to "chat".
	ChannelLabel string
	// RTCConfig carries ICE servers for the local peer connection.
	RTCConfig webrtc.Configuration
	Logger    *slog.Logger
}

// Controller drives the connect/disconnect lifecycle. Connect is a no-op
// unless fully disconnected, and a failure at any acquisition step unwinds
// everything acquired so far.
type Controller struct {
	opts    Options
	logger  *slog.Logger
	state   atomic.Int32
	tracker *status.Tracker
	history *transcript.Reconciler

	mu      sync.Mutex
	gen     int
	pc      *webrtc.PeerConnection
	capture media.Capture
	dc      *webrtc.DataChannel
	pcID    string

	onFrame FrameHandler
}

func NewController(opts Options) *Controller {
	if opts.Capturer == nil {
		opts.Capturer = media.SilenceCapturer{}
		opts.Constraints = media.DefaultConstraints()
	}
	if opts.Sink == nil {
		opts.Sink = media.DiscardSink{}
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = "chat"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "client")
	}
	return &Controller{
		opts:    opts,
		logger:  logger,
		tracker: status.NewTracker(),
		history: transcript.New(),
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Tracker exposes the pipeline status mirror.
func (c *Controller) Tracker() *status.Tracker { return c.tracker }

// Transcript exposes the reconciled conversation history.
func (c *Controller) Transcript() *transcript.Reconciler { return c.history }

// OnFrame registers an observer for every routed frame. Must be set before
// Connect.
func (c *Controller) OnFrame(h FrameHandler) { c.onFrame = h }

// PCID returns the connection handle id from the last successful exchange.
func (c *Controller) PCID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcID
}

// Connect acquires capture, negotiates, and transitions to connected. Calling
// it while connecting or connected does nothing.
func (c *Controller) Connect(ctx context.Context) error {
	// The CAS and the generation snapshot share the lock so a Disconnect can
	// never slip between them unseen.
	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		c.mu.Unlock()
		return nil
	}
	startGen := c.gen
	retainedPCID := c.pcID
	c.mu.Unlock()

	capture, pc, dc, pcID, err := c.establish(ctx, retainedPCID)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.mu.Lock()
	if c.gen != startGen {
		// Disconnect raced the handshake; release everything.
		c.mu.Unlock()
		_ = capture.Stop()
		_ = pc.Close()
		c.state.Store(int32(StateDisconnected))
		return errorsx.Wrap(errors.New("disconnected during handshake"), errorsx.ReasonNegotiate)
	}
	c.capture = capture
	c.pc = pc
	c.dc = dc
	c.pcID = pcID
	c.tracker.Reset()
	c.state.Store(int32(StateConnected))
	c.mu.Unlock()

	c.logger.Info("connected", "pc_id", pcID)
	return nil
}

func (c *Controller) establish(ctx context.Context, retainedPCID string) (media.Capture, *webrtc.PeerConnection, *webrtc.DataChannel, string, error) {
	capture, err := c.opts.Capturer.Open(ctx, c.opts.Constraints)
	if err != nil {
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonMediaAcquire)
	}

	pc, err := webrtc.NewPeerConnection(c.opts.RTCConfig)
	if err != nil {
		_ = capture.Stop()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	unwind := func() {
		_ = capture.Stop()
		_ = pc.Close()
	}

	if _, err := pc.AddTrack(capture.Track()); err != nil {
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}

	// The channel must exist before the offer so the SDP advertises it.
	dc, err := pc.CreateDataChannel(c.opts.ChannelLabel, nil)
	if err != nil {
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.route(msg.Data, time.Now())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go c.opts.Sink.Consume(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.handleTransportFailure(pc)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(ctx.Err(), errorsx.ReasonNegotiate)
	}

	answer, pcID, err := c.opts.Signal.Offer(ctx, *pc.LocalDescription(), retainedPCID)
	if err != nil {
		unwind()
		return nil, nil, nil, "", err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		unwind()
		return nil, nil, nil, "", errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	return capture, pc, dc, pcID, nil
}

// Disconnect releases the connection, capture, and the stored handle id, and
// returns the pipeline status mirror to idle. Safe to call in any state and
// repeatedly.
func (c *Controller) Disconnect() error {
	return c.teardown(false)
}

func (c *Controller) teardown(retainHandle bool) error {
	c.mu.Lock()
	c.gen++
	pc := c.pc
	capture := c.capture
	c.pc, c.capture, c.dc = nil, nil, nil
	if !retainHandle {
		c.pcID = ""
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.tracker.Reset()

	var errs []error
	if capture != nil {
		if err := capture.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("disconnected")
	return nil
}

// route decodes one inbound frame and dispatches it. Malformed frames are
// logged and dropped without touching the connection.
func (c *Controller) route(data []byte, at time.Time) {
	m, err := protocol.Decode(data, at)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch m.Type {
	case protocol.TypeStatus:
		if err := c.tracker.Apply(m, at); err != nil {
			c.logger.Warn("status rejected", "error", err)
			return
		}
	case protocol.TypeTranscript:
		if _, err := c.history.Apply(m); err != nil {
			c.logger.Warn("transcript rejected", "error", err)
			return
		}
	case protocol.TypeLog:
		c.logger.Info("server", "text", m.Text)
	}

	if c.onFrame != nil {
		c.onFrame(m)
	}
}

// handleTransportFailure tears down after a post-connect failure. There is no
// automatic reconnect; the caller decides whether to dial again. Unlike a
// plain Disconnect the handle id survives, so the next Connect can offer to
// renegotiate the failed connection.
func (c *Controller) handleTransportFailure(failed *webrtc.PeerConnection) {
	c.mu.Lock()
	if c.pc != failed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.State() != StateConnected {
		return
	}
	c.logger.Warn("transport failed", "reason", errorsx.ReasonTransportFailed)
	_ = c.teardown(true)
}
