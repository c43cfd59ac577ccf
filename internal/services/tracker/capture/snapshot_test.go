package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/route"
)

func newTable(t *testing.T, url string) *route.Table {
	t.Helper()
	table, err := route.New(route.Site{
		Routes: map[string][]domain.CheckpointID{"Masjid": {1, 2}},
		Checkpoints: []route.Checkpoint{
			{ID: 1, Name: "Gate", SnapshotURL: url},
			{ID: 2, Name: "Yard"},
		},
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return table
}

func TestOpenAndFrame(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("frame"))
	}))
	defer srv.Close()

	opener := NewHTTPSnapshot(newTable(t, srv.URL), srv.Client())
	src, err := opener.Open(context.Background(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	frame, err := src.Frame(context.Background())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if string(frame) != "frame" {
		t.Fatalf("frame = %q, want frame", frame)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestOpenMissingURLIsPermanent(t *testing.T) {
	opener := NewHTTPSnapshot(newTable(t, "http://unused"), nil)
	for _, cp := range []domain.CheckpointID{2, 9} {
		_, err := opener.Open(context.Background(), cp)
		var perm *backoff.PermanentError
		if !errors.As(err, &perm) {
			t.Fatalf("checkpoint %d err = %v, want permanent", cp, err)
		}
		if apperrors.CodeOf(err) != apperrors.CodeCheckpointSourceMissing {
			t.Fatalf("checkpoint %d code = %s", cp, apperrors.CodeOf(err))
		}
	}
}

func TestOpenFailsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSnapshot(newTable(t, srv.URL), srv.Client()).Open(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for unavailable camera")
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		t.Fatalf("err = %v, want transient", err)
	}
}
