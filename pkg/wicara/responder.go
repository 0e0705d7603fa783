package wicara

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/wicara/pkg/progress"
)

// Responder drives the demo conversation: it greets on connect and, in echo
// mode, streams a reply to every finalized user utterance through the same
// status/transcript/log frames a full pipeline would emit.
type Responder struct {
	cfg    ConversationConfig
	logger *slog.Logger
}

func NewResponder(cfg ConversationConfig, logger *slog.Logger) *Responder {
	return &Responder{cfg: cfg, logger: logger}
}

// Greet streams the configured greeting as the first assistant message.
func (r *Responder) Greet(ctx context.Context, em *progress.Emitters) {
	if r.cfg.Greeting == "" {
		return
	}
	r.stream(ctx, em, r.cfg.Greeting)
}

// Reply handles one finalized user utterance.
func (r *Responder) Reply(ctx context.Context, em *progress.Emitters, text string) {
	if err := em.STT.Final(text); err != nil {
		r.logger.Warn("stt emit failed", "error", err)
		return
	}
	if strings.EqualFold(r.cfg.Responder.Mode, "silent") {
		return
	}
	r.stream(ctx, em, r.cfg.Responder.ReplyPrefix+text)
}

// stream plays one assistant response through the emitters, chunked by word
// so observers see the same incremental updates a streaming model produces.
func (r *Responder) stream(ctx context.Context, em *progress.Emitters, text string) {
	if err := em.LLM.Start(); err != nil {
		r.logger.Warn("llm emit failed", "error", err)
		return
	}
	delay := time.Duration(r.cfg.Responder.DeltaMS) * time.Millisecond
	words := strings.Fields(text)
	for i, w := range words {
		chunk := w
		if i < len(words)-1 {
			chunk += " "
		}
		if err := em.LLM.Delta(chunk); err != nil {
			r.logger.Warn("llm emit failed", "error", err)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
	if err := em.LLM.End(); err != nil {
		return
	}
	if err := em.TTS.Started(); err != nil {
		return
	}
	_ = em.TTS.Stopped()
}
