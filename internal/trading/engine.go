// Package trading holds the execution-engine client. The bot only ever
// tells the engine one thing: stop trading now.
package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "gexbot/pkg/logx"
)

// Engine kills the live execution loop. Kill returns a post-mortem
// reference when the engine produced one.
type Engine interface {
	Kill(ctx context.Context) (postMortemRef string, err error)
}

// Noop stands in when no engine is configured. Killing an absent engine
// is a clean no-op so the emergency-stop flow stays idempotent.
type Noop struct{}

func (Noop) Kill(ctx context.Context) (string, error) { return "", nil }

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type HTTPEngine struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) *HTTPEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngine{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log.With(logx.String("comp", "engine")),
	}
}

type haltResponse struct {
	PostMortemRef string `json:"post_mortem_ref"`
	Status        string `json:"status"`
}

// Kill posts /halt. 409 means the engine was already halted; that counts
// as success.
func (e *HTTPEngine) Kill(ctx context.Context) (string, error) {
	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/halt", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Request-ID", reqID)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine halt: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusConflict:
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("engine halt status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out haltResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		e.log.Warn("engine halt response undecodable", logx.Err(err), logx.String("req_id", reqID))
		return "", nil
	}

	e.log.Info("engine halted",
		logx.String("req_id", reqID),
		logx.String("post_mortem", out.PostMortemRef),
		logx.Int("status", resp.StatusCode))
	return out.PostMortemRef, nil
}
