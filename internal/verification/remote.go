package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const remoteTimeout = 10 * time.Second

// Remote calls a model-backed verdict endpoint. On any transport or decode
// failure it falls back to the heuristic provider rather than blocking
// payments on the model's availability.
type Remote struct {
	EndpointURL string
	APIKey      string
	Fallback    Provider
	Logger      *slog.Logger
	client      *http.Client
}

var _ Provider = (*Remote)(nil)

// NewRemote returns a model-backed provider with a heuristic fallback.
func NewRemote(endpointURL, apiKey string, logger *slog.Logger) *Remote {
	return &Remote{
		EndpointURL: endpointURL,
		APIKey:      apiKey,
		Fallback:    NewHeuristic(),
		Logger:      logger,
		client:      &http.Client{Timeout: remoteTimeout},
	}
}

func (r *Remote) Verify(ctx context.Context, tc TaskCompletion) (*Result, error) {
	body, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("marshal verification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.Logger.Warn("verdict endpoint unreachable, using heuristic fallback",
			"task_id", tc.TaskID, "error", err)
		return r.Fallback.Verify(ctx, tc)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.Logger.Warn("verdict endpoint returned non-200, using heuristic fallback",
			"task_id", tc.TaskID, "status", resp.StatusCode)
		return r.Fallback.Verify(ctx, tc)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		r.Logger.Warn("verdict endpoint returned invalid JSON, using heuristic fallback",
			"task_id", tc.TaskID, "error", err)
		return r.Fallback.Verify(ctx, tc)
	}
	switch out.Verdict {
	case VerdictApprove, VerdictFlag, VerdictReject:
		return &out, nil
	}
	r.Logger.Warn("verdict endpoint returned unknown verdict, using heuristic fallback",
		"task_id", tc.TaskID, "verdict", out.Verdict)
	return r.Fallback.Verify(ctx, tc)
}
