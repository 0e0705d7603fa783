package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harunnryd/wicara/pkg/errorsx"
	"github.com/harunnryd/wicara/pkg/logging"
	"github.com/harunnryd/wicara/pkg/resilience"
)

// SignalConfig configures the HTTP signaling exchange.
type SignalConfig struct {
	// BaseURL is the signaling endpoint root, e.g. http://localhost:7860.
	BaseURL string
	// SessionID scopes offers to a session when set.
	SessionID string
	// Timeout bounds a single exchange when the caller's context carries no
	// deadline.
	Timeout time.Duration
	// Retry governs transient-failure retries. Client errors are terminal.
	Retry resilience.RetryPolicy
}

func (c SignalConfig) withDefaults() SignalConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Retry.MaxRetries == 0 && c.Retry.Backoff == 0 {
		c.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	return c
}

// SignalClient exchanges session descriptions with the signaling endpoint.
type SignalClient struct {
	cfg    SignalConfig
	http   *http.Client
	logger *slog.Logger
}

func NewSignalClient(cfg SignalConfig) *SignalClient {
	return &SignalClient{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		logger: logging.NewComponentLogger(slog.Default(), "signal-client"),
	}
}

// CreateSession requests a fresh session id from the endpoint.
func (c *SignalClient) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	err := c.exchange(ctx, http.MethodPost, c.cfg.BaseURL+"/api/session", nil, &out)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSignalSession)
	}
	if out.SessionID == "" {
		return "", errorsx.Wrap(fmt.Errorf("endpoint returned no session id"), errorsx.ReasonSignalSession)
	}
	return out.SessionID, nil
}

type offerPayload struct {
	SDP       string `json:"sdp"`
	Type      string `json:"type"`
	PCID      string `json:"pc_id,omitempty"`
	RestartPC bool   `json:"restart_pc,omitempty"`
}

type answerPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// Offer posts a local description and returns the remote answer plus the
// connection handle id the endpoint minted or reused.
func (c *SignalClient) Offer(ctx context.Context, offer webrtc.SessionDescription, pcID string) (webrtc.SessionDescription, string, error) {
	url := c.cfg.BaseURL + "/api/offer"
	if c.cfg.SessionID != "" {
		url = c.cfg.BaseURL + "/sessions/" + c.cfg.SessionID + "/api/offer"
	}

	payload := offerPayload{SDP: offer.SDP, Type: offer.Type.String(), PCID: pcID}
	var out answerPayload
	if err := c.exchange(ctx, http.MethodPost, url, payload, &out); err != nil {
		return webrtc.SessionDescription{}, "", err
	}
	if webrtc.NewSDPType(out.Type) != webrtc.SDPTypeAnswer || out.SDP == "" {
		return webrtc.SessionDescription{}, "", errorsx.Wrap(fmt.Errorf("endpoint returned %q instead of an answer", out.Type), errorsx.ReasonSignalOffer)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: out.SDP}, out.PCID, nil
}

// exchange runs one JSON request with bounded retries. Server errors and
// transport failures retry; 4xx responses are terminal.
func (c *SignalClient) exchange(ctx context.Context, method, url string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSignalOffer)
		}
	}

	var terminal error
	err := c.cfg.Retry.DoContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("signal request failed", "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			terminal = errorsx.Wrap(fmt.Errorf("signal %s: not found", url), errorsx.ReasonSessionNotFound)
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			terminal = errorsx.Wrap(fmt.Errorf("signal %s: status %d", url, resp.StatusCode), errorsx.ReasonSignalOffer)
			return nil
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("signal %s: status %d", url, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(data, out)
	})
	if terminal != nil {
		return terminal
	}
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSignalOffer)
	}
	return nil
}
