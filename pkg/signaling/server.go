// Package signaling exposes the HTTP endpoint a browser client negotiates
// with: session issuance, offer/answer exchange with vanilla ICE, per-session
// connection supersession, and a websocket mirror of every wire frame.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harunnryd/wicara/pkg/errorsx"
	"github.com/harunnryd/wicara/pkg/logging"
	"github.com/harunnryd/wicara/pkg/metrics"
	"github.com/harunnryd/wicara/pkg/protocol"
)

// ConnectHandler runs once per connection when the client's message channel
// opens. It drives the conversation for that connection and should return
// when ctx is cancelled or the peer goes away.
type ConnectHandler func(ctx context.Context, session *Session, peer *Peer)

// MessageHandler receives decoded inbound frames from a connected client.
type MessageHandler func(peer *Peer, m protocol.Message)

// DisconnectHandler runs once when a connection goes away, whatever tore it
// down: transport failure, supersession, or session clear.
type DisconnectHandler func(peer *Peer)

type Option func(*Server)

func WithConnectHandler(h ConnectHandler) Option {
	return func(s *Server) { s.onConnect = h }
}

func WithMessageHandler(h MessageHandler) Option {
	return func(s *Server) { s.onMessage = h }
}

func WithDisconnectHandler(h DisconnectHandler) Option {
	return func(s *Server) { s.onDisconnect = h }
}

func WithMetrics(obs metrics.Observer) Option {
	return func(s *Server) { s.observer = obs }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server is the signaling endpoint.
type Server struct {
	cfg       Config
	store     *Store
	registry  *Registry
	api       *webrtc.API
	rtcConfig webrtc.Configuration
	broadcast *broadcaster

	onConnect    ConnectHandler
	onMessage    MessageHandler
	onDisconnect DisconnectHandler
	observer     metrics.Observer
	logger       *slog.Logger

	httpServer *http.Server
	baseCtx    context.Context
	cancel     context.CancelFunc
	draining   atomic.Bool
	errCh      chan error
}

func New(cfg Config, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:      cfg,
		store:    NewStore(),
		registry: NewRegistry(),
		observer: metrics.NoopObserver{},
		logger:   logging.NewComponentLogger(slog.Default(), "signaling"),
		errCh:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broadcast = newBroadcaster(s.logger)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonNegotiate)
	}
	s.api = webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	if len(cfg.STUNURLs) > 0 {
		s.rtcConfig = webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: cfg.STUNURLs}},
		}
	}

	return s, nil
}

// Store exposes the session store, mainly for tests and embedding engines.
func (s *Server) Store() *Store { return s.store }

// Registry exposes the live connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler builds the HTTP mux. Exposed so tests can drive the endpoint with
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("POST /api/session/{id}/document", s.handleSetDocument)
	mux.HandleFunc("DELETE /api/session/{id}/document", s.handleClearDocument)
	mux.HandleFunc("POST /api/session/{id}/clear", s.handleClearSession)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /api/offer", s.handleDirectOffer)
	mux.HandleFunc("/sessions/{id}/{rest...}", s.handleSessionProxy)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+s.cfg.ObservePath, s.handleObserve)
	return mux
}

// Start begins serving until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("signaling listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	go func() {
		<-s.baseCtx.Done()
		_ = s.shutdown()
	}()
	return nil
}

// Stop drains: no new offers are accepted, live peers are closed, observers
// disconnected.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.shutdown()
}

// Err surfaces a listener failure, nil-safe for select loops.
func (s *Server) Err() <-chan error { return s.errCh }

func (s *Server) shutdown() error {
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	for _, p := range s.registry.All() {
		_ = p.Close()
	}
	s.broadcast.closeAll()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

// --- session endpoints ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.store.Create()
	s.record("session_created", map[string]string{"session_id": sess.ID})
	s.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

// handleStart is the one-shot variant: it issues a session and, on request,
// includes the ICE servers the client should dial with.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EnableDefaultICEServers bool `json:"enableDefaultIceServers"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess := s.store.Create()
	s.record("session_created", map[string]string{"session_id": sess.ID})

	resp := map[string]any{"sessionId": sess.ID}
	if req.EnableDefaultICEServers {
		resp["iceConfig"] = map[string]any{
			"iceServers": []map[string]any{{"urls": s.cfg.STUNURLs}},
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var meta map[string]string
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document metadata")
		return
	}
	sess.SetDocument(meta)
	s.logger.Info("document registered", "session_id", sess.ID, "title", meta["title"])
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.ClearDocument()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClearSession destroys the session and tears down any live connection
// bound to it.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if peer := s.registry.ForSession(id); peer != nil {
		s.registry.Detach(peer.ID())
		_ = peer.Close()
		s.record("connection_closed", map[string]string{"session_id": id, "pc_id": peer.ID()})
	}
	s.logger.Info("session cleared", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- offer endpoints ---

// handleDirectOffer negotiates without a session binding.
func (s *Server) handleDirectOffer(w http.ResponseWriter, r *http.Request) {
	s.negotiate(w, r, nil)
}

// handleSessionProxy routes session-scoped requests. Offer paths negotiate
// under the session; anything else is an unknown resource.
func (s *Server) handleSessionProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rest := r.PathValue("rest")
	if rest == "api/offer" || strings.HasSuffix(rest, "/api/offer") {
		s.negotiate(w, r, sess)
		return
	}
	writeError(w, http.StatusNotFound, "unknown resource")
}

type offerRequest struct {
	SDP       string `json:"sdp"`
	Type      string `json:"type"`
	PCID      string `json:"pc_id"`
	RestartPC bool   `json:"restart_pc"`
}

type answerResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// negotiate implements the offer contract: a live pc_id renegotiates the
// existing handle, anything else builds a fresh one, and a session's previous
// connection is torn down before the replacement answers.
func (s *Server) negotiate(w http.ResponseWriter, r *http.Request, sess *Session) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, "draining")
		return
	}

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable offer")
		return
	}
	if req.SDP == "" || webrtc.NewSDPType(req.Type) != webrtc.SDPTypeOffer {
		writeError(w, http.StatusBadRequest, "offer must carry sdp and type \"offer\"")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}

	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}

	if req.PCID != "" && !req.RestartPC {
		if peer := s.registry.Get(req.PCID); peer != nil {
			answer, err := peer.Answer(r.Context(), offer)
			if err != nil {
				s.logger.Error("renegotiation failed", "pc_id", peer.ID(), "error", err)
				writeError(w, http.StatusInternalServerError, "renegotiation failed")
				return
			}
			s.record("connection_renegotiated", map[string]string{"session_id": sessionID, "pc_id": peer.ID()})
			writeJSON(w, http.StatusOK, answerResponse{SDP: answer.SDP, Type: answer.Type.String(), PCID: peer.ID()})
			return
		}
		// Stale handle: fall through and mint a fresh connection.
		s.logger.Info("offer referenced dead handle", "pc_id", req.PCID)
	}

	peer, err := newPeer(s.api, s.rtcConfig, sessionID, s.logger)
	if err != nil {
		s.logger.Error("peer construction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create connection")
		return
	}
	s.wirePeer(peer, sess)

	if old := s.registry.Attach(peer); old != nil {
		_ = old.Close()
		s.record("connection_superseded", map[string]string{"session_id": sessionID, "pc_id": old.ID()})
		s.logger.Info("superseded prior connection", "session_id", sessionID, "old_pc_id", old.ID())
	}

	answer, err := peer.Answer(r.Context(), offer)
	if err != nil {
		s.registry.Detach(peer.ID())
		_ = peer.Close()
		s.logger.Error("negotiation failed", "pc_id", peer.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "negotiation failed")
		return
	}

	s.record("connection_attached", map[string]string{"session_id": sessionID, "pc_id": peer.ID()})
	s.logger.Info("connection negotiated", "session_id", sessionID, "pc_id", peer.ID())
	writeJSON(w, http.StatusOK, answerResponse{SDP: answer.SDP, Type: answer.Type.String(), PCID: peer.ID()})
}

func (s *Server) wirePeer(peer *Peer, sess *Session) {
	peer.mirror = func(p *Peer, m protocol.Message) {
		s.broadcast.publish(p.SessionID(), p.ID(), m)
	}
	peer.onMessage = func(p *Peer, m protocol.Message) {
		if s.onMessage != nil {
			s.onMessage(p, m)
		}
	}
	peer.onOpen = func(p *Peer) {
		s.record("channel_open", map[string]string{"session_id": p.SessionID(), "pc_id": p.ID()})
		if s.onConnect != nil {
			ctx := s.baseCtx
			if ctx == nil {
				ctx = context.Background()
			}
			go s.onConnect(ctx, sess, p)
		}
	}
	peer.onClosed = func(p *Peer) {
		if s.registry.Detach(p.ID()) != nil {
			s.record("connection_closed", map[string]string{"session_id": p.SessionID(), "pc_id": p.ID()})
			s.logger.Info("connection closed", "session_id", p.SessionID(), "pc_id", p.ID())
		}
		if s.onDisconnect != nil {
			s.onDisconnect(p)
		}
	}
}

// --- misc endpoints ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.store.Len(),
		"connections": s.registry.Len(),
	})
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	upgrader := s.broadcast.upgrader(s.cfg.AllowAnyOrigin, s.cfg.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("observer upgrade failed", "error", err)
		return
	}
	s.broadcast.add(conn)
}

func (s *Server) record(name string, tags map[string]string) {
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: tags,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
