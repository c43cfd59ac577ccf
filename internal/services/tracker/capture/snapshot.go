// Package capture pulls frames from checkpoint cameras that expose a JPEG
// snapshot URL.
package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/platform/timeouts"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/route"
	"github.com/etle/vtrack/internal/services/tracker/scheduler"
)

// maxFrameBytes bounds one snapshot body.
const maxFrameBytes = 16 << 20

// HTTPSnapshot opens snapshot sources for the checkpoints of a route table.
type HTTPSnapshot struct {
	routes *route.Table
	client *http.Client
}

var _ scheduler.SourceOpener = (*HTTPSnapshot)(nil)

// NewHTTPSnapshot builds an opener. A nil client gets the snapshot timeout.
func NewHTTPSnapshot(routes *route.Table, client *http.Client) *HTTPSnapshot {
	if client == nil {
		client = &http.Client{Timeout: timeouts.Snapshot}
	}
	return &HTTPSnapshot{routes: routes, client: client}
}

// Open fetches one frame to prove the camera answers. A checkpoint without a
// snapshot URL fails permanently so the caller stops retrying.
func (h *HTTPSnapshot) Open(ctx context.Context, checkpoint domain.CheckpointID) (scheduler.FrameSource, error) {
	cp, ok := h.routes.Checkpoint(checkpoint)
	if !ok || strings.TrimSpace(cp.SnapshotURL) == "" {
		return nil, backoff.Permanent(apperrors.WithMetadata(apperrors.CodeCheckpointSourceMissing,
			"checkpoint has no snapshot url",
			map[string]string{"checkpoint": fmt.Sprint(checkpoint)}))
	}
	src := &snapshotSource{client: h.client, url: cp.SnapshotURL}
	if _, err := src.Frame(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

type snapshotSource struct {
	client *http.Client
	url    string
}

func (s *snapshotSource) Frame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch snapshot: empty body")
	}
	return body, nil
}

func (s *snapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
