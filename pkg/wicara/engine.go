// Package wicara assembles the voice conversation backend: the signaling
// endpoint, per-connection frame emitters, and the demo responder.
package wicara

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/wicara/pkg/logging"
	"github.com/harunnryd/wicara/pkg/metrics"
	"github.com/harunnryd/wicara/pkg/observers"
	"github.com/harunnryd/wicara/pkg/progress"
	"github.com/harunnryd/wicara/pkg/protocol"
	"github.com/harunnryd/wicara/pkg/redact"
	"github.com/harunnryd/wicara/pkg/runner"
	"github.com/harunnryd/wicara/pkg/signaling"
)

// Engine owns the signaling server and the conversation driver. It implements
// runner.Drainer so the lifecycle runner can stop it gracefully.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	server    *signaling.Server
	observer  metrics.Observer
	responder *Responder
	runner    *runner.LifecycleRunner

	mu       sync.Mutex
	emitters map[string]*progress.Emitters
	closers  []io.Closer
	async    *metrics.AsyncObserver
}

func NewEngine(cfg Config) (*Engine, error) {
	base := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(base)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	e := &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(base, "engine"),
		emitters: make(map[string]*progress.Emitters),
	}
	e.responder = NewResponder(cfg.Conversation, e.logger)

	observer, err := e.buildObserver(base)
	if err != nil {
		return nil, err
	}
	e.observer = observer

	sigCfg, err := cfg.SignalingServerConfig()
	if err != nil {
		return nil, err
	}
	server, err := signaling.New(sigCfg,
		signaling.WithConnectHandler(e.handleConnect),
		signaling.WithMessageHandler(e.handleMessage),
		signaling.WithDisconnectHandler(e.handleDisconnect),
		signaling.WithMetrics(observer),
		signaling.WithLogger(logging.NewComponentLogger(base, "signaling")),
	)
	if err != nil {
		return nil, err
	}
	e.server = server

	hooks := runner.Hooks{
		OnStart: func() {
			e.logger.Info("engine_ready", "environment", cfg.Environment)
		},
		OnStop: func() {
			e.logger.Info("shutdown")
		},
	}
	e.runner = runner.NewLifecycleRunner(e, hooks, 15*time.Second)
	return e, nil
}

// Server exposes the signaling endpoint, mainly for tests.
func (e *Engine) Server() *signaling.Server { return e.server }

// Start brings the signaling endpoint up and returns immediately. The
// lifecycle runner then owns draining when ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.server.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

// Stop drains through the lifecycle runner.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// Drain stops the endpoint, closing live connections and observers.
func (e *Engine) Drain() error {
	err := e.server.Stop(context.Background())
	if flusher, ok := e.observer.(metrics.Flusher); ok {
		_ = flusher.Flush()
	}
	if e.async != nil {
		e.async.Close()
	}
	e.mu.Lock()
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
	return err
}

func (e *Engine) buildObserver(base *slog.Logger) (metrics.Observer, error) {
	var list []metrics.Observer
	if e.cfg.Observability.LogEvents {
		metricsLog := logging.NewComponentLogger(base, "metrics")
		list = append(list,
			observers.NewLoggerObserver(metricsLog),
			observers.NewLatencyObserver(metricsLog),
		)
	}
	if dir := e.cfg.Observability.ArtifactsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifacts dir: %w", err)
		}
		if days := e.cfg.Observability.RetentionDays; days > 0 {
			if removed, err := observers.PurgeArtifacts(dir, time.Duration(days)*24*time.Hour); err != nil {
				e.logger.Warn("artifact purge failed", "error", err)
			} else if removed > 0 {
				e.logger.Info("purged stale artifacts", "removed", removed)
			}
		}
		f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("artifacts file: %w", err)
		}
		timeline := observers.NewTimelineObserver(dir)
		e.async = metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), 256)
		e.closers = append(e.closers, f, timeline)
		list = append(list, e.async, timeline)
	}
	if rate := e.cfg.Observability.SampleRate; rate > 0 && rate < 1 {
		for i := range list {
			list[i] = metrics.NewSamplingObserver(list[i], rate)
		}
	}
	switch len(list) {
	case 0:
		return metrics.NoopObserver{}, nil
	case 1:
		return list[0], nil
	default:
		return observers.NewMultiObserver(list...), nil
	}
}

// handleConnect runs once per opened message channel.
func (e *Engine) handleConnect(ctx context.Context, sess *signaling.Session, peer *signaling.Peer) {
	em := e.emittersFor(peer.ID(), peer)
	if sess != nil {
		if doc := sess.Document(); doc != nil {
			e.logger.Info("conversation scoped to document", "session_id", sess.ID, "title", doc["title"])
		}
	}
	e.responder.Greet(ctx, em)
}

// handleMessage routes inbound frames. Finalized user transcripts drive the
// responder; everything else is informational.
func (e *Engine) handleMessage(peer *signaling.Peer, m protocol.Message) {
	if m.Type != protocol.TypeTranscript || m.Role != protocol.RoleUser || !m.IsFinal() {
		return
	}
	em := e.emittersFor(peer.ID(), peer)
	go e.responder.Reply(context.Background(), em, m.Text)
}

// handleDisconnect drops the connection's emitter bundle so the map does not
// grow with every connection ever made.
func (e *Engine) handleDisconnect(peer *signaling.Peer) {
	e.dropEmitters(peer.ID())
}

func (e *Engine) emittersFor(id string, sender progress.Sender) *progress.Emitters {
	e.mu.Lock()
	defer e.mu.Unlock()
	em, ok := e.emitters[id]
	if !ok {
		em = progress.NewEmitters(sender, nil)
		e.emitters[id] = em
	}
	return em
}

func (e *Engine) dropEmitters(id string) {
	e.mu.Lock()
	delete(e.emitters, id)
	e.mu.Unlock()
}
