package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/util"
)

// Request is one line of the agent's JSON-lines protocol.
type Request struct {
	Kind      string           `json:"kind"`
	EventType models.EventType `json:"eventType,omitempty"`
	URL       string           `json:"url,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Response answers one Request.
type Response struct {
	Kind              string `json:"kind"`
	Allowed           bool   `json:"allowed"`
	Denial            string `json:"denial,omitempty"`
	RetryAfterSeconds uint   `json:"retryAfterSeconds,omitempty"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Serve reads requests from r until EOF or ctx is done, runs each through
// the guard and writes one response line per request to w. Allowed actions
// are simply acknowledged; the caller performs the action itself.
func (a *Agent) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := enc.Encode(a.handleLine(ctx, line)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

func (a *Agent) handleLine(ctx context.Context, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil || req.Kind == "" {
		logger.Component("agent").WithField("line", util.Truncate(util.SanitizeForLog(line), 200)).Warn("ignoring malformed request")
		return Response{Error: "malformed request"}
	}
	if req.EventType != "" && !req.EventType.IsValid() {
		return Response{Kind: req.Kind, Error: fmt.Sprintf("unknown eventType %q", req.EventType)}
	}

	out := a.Do(ctx, services.Action{
		Kind:      req.Kind,
		EventType: req.EventType,
		URL:       req.URL,
		Metadata:  req.Metadata,
	}, func(context.Context, services.Action) error { return nil })

	resp := Response{
		Kind:              req.Kind,
		Allowed:           out.Allowed,
		Denial:            string(out.Denial),
		RetryAfterSeconds: out.RetryAfterSeconds,
		Message:           out.Message,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}
